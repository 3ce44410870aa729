package topology

import "testing"

func TestAddLinkContracts(t *testing.T) {
	g := New()
	a := g.AddRouter("a", 1)
	b := g.AddRouter("b", 1)
	e := g.AddExternalRouter("e", 2)

	if err := g.AddLink(a, b, 1); err != nil {
		t.Fatalf("expected symmetric internal link to succeed one direction: %v", err)
	}
	if err := g.AddLink(a, b, 1); err == nil {
		t.Errorf("expected duplicate link to fail")
	}
	if err := g.AddLink(a, RouterID(999), 1); err == nil {
		t.Errorf("expected unknown endpoint to fail")
	}
	if err := g.AddLink(b, a, -1); err == nil {
		t.Errorf("expected non-positive weight on new edge to fail")
	}

	e2 := g.AddExternalRouter("e2", 3)
	if err := g.AddLink(e, e2, 0); err == nil {
		t.Errorf("expected external-external link to fail")
	}
	if err := g.AddLink(e, a, 0); err != nil {
		t.Errorf("expected external-internal link to succeed: %v", err)
	}
}

func TestNeighborsAndWeight(t *testing.T) {
	g := New()
	a := g.AddRouter("a", 1)
	b := g.AddRouter("b", 1)
	c := g.AddRouter("c", 1)
	g.AddLink(a, b, 5)
	g.AddLink(a, c, 3)

	neighbors := g.Neighbors(a)
	if len(neighbors) != 2 || neighbors[0] != b || neighbors[1] != c {
		t.Fatalf("expected sorted [b, c], got %v", neighbors)
	}

	if w, ok := g.Weight(a, b); !ok || w != 5 {
		t.Errorf("expected weight 5, got %v ok=%v", w, ok)
	}
	if err := g.SetLinkWeight(a, b, 7); err != nil {
		t.Fatalf("SetLinkWeight: %v", err)
	}
	if w, _ := g.Weight(a, b); w != 7 {
		t.Errorf("expected updated weight 7, got %v", w)
	}
}

func TestCloneIndependence(t *testing.T) {
	g := New()
	a := g.AddRouter("a", 1)
	b := g.AddRouter("b", 1)
	g.AddLink(a, b, 1)

	clone := g.Clone()
	clone.SetLinkWeight(a, b, 99)

	if w, _ := g.Weight(a, b); w != 1 {
		t.Errorf("mutating clone affected original: weight=%v", w)
	}
	if w, _ := clone.Weight(a, b); w != 99 {
		t.Errorf("clone mutation did not apply: weight=%v", w)
	}
}
