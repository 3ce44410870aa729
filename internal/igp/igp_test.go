package igp

import (
	"testing"

	"github.com/netlab/bgpsim/internal/topology"
)

func symLink(t *testing.T, g *topology.Graph, a, b topology.RouterID, w float64) {
	t.Helper()
	if err := g.AddLink(a, b, w); err != nil {
		t.Fatalf("AddLink %d->%d: %v", a, b, err)
	}
	if err := g.AddLink(b, a, w); err != nil {
		t.Fatalf("AddLink %d->%d: %v", b, a, err)
	}
}

func TestLinearPath(t *testing.T) {
	g := topology.New()
	b0 := g.AddRouter("b0", 1)
	r0 := g.AddRouter("r0", 1)
	r1 := g.AddRouter("r1", 1)
	b1 := g.AddRouter("b1", 1)
	symLink(t, g, b0, r0, 1)
	symLink(t, g, r0, r1, 1)
	symLink(t, g, r1, b1, 1)

	table := Compute(g)
	e := table[b0][b1]
	if e.Distance != 3 {
		t.Fatalf("expected distance 3, got %v", e.Distance)
	}
	if _, ok := e.FirstHops[r0]; !ok || len(e.FirstHops) != 1 {
		t.Fatalf("expected unique first hop r0, got %v", e.FirstHops)
	}
}

func TestECMP(t *testing.T) {
	g := topology.New()
	a := g.AddRouter("a", 1)
	b := g.AddRouter("b", 1)
	c := g.AddRouter("c", 1)
	d := g.AddRouter("d", 1)
	symLink(t, g, a, b, 1)
	symLink(t, g, a, c, 1)
	symLink(t, g, b, d, 1)
	symLink(t, g, c, d, 1)

	table := Compute(g)
	e := table[a][d]
	if e.Distance != 2 {
		t.Fatalf("expected distance 2, got %v", e.Distance)
	}
	if len(e.FirstHops) != 2 {
		t.Fatalf("expected 2 ECMP first hops, got %v", e.FirstHops)
	}
	if _, ok := e.FirstHops[b]; !ok {
		t.Errorf("expected b as a first hop")
	}
	if _, ok := e.FirstHops[c]; !ok {
		t.Errorf("expected c as a first hop")
	}
}

func TestUnreachable(t *testing.T) {
	g := topology.New()
	a := g.AddRouter("a", 1)
	iso := g.AddRouter("iso", 1)
	_ = iso

	table := Compute(g)
	if _, ok := table[a][iso]; ok {
		t.Errorf("expected no entry for unreachable target")
	}
}

func TestExternalRoutersExcluded(t *testing.T) {
	g := topology.New()
	a := g.AddRouter("a", 1)
	e := g.AddExternalRouter("e", 2)
	g.AddLink(a, e, 0)
	g.AddLink(e, a, 0)

	table := Compute(g)
	if _, ok := table[a]; !ok {
		t.Fatalf("expected internal source a in table")
	}
	if _, ok := table[e]; ok {
		t.Errorf("external router should not appear as an IGP source")
	}
}
