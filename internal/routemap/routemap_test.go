package routemap

import (
	"testing"

	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/route"
)

func TestFirstMatchWins(t *testing.T) {
	m := Map{
		{Match: ASPathContains{ASN: 666}, Action: Deny},
		{Match: Always{}, Action: Permit},
	}

	_, ok := m.Apply(Context{Route: route.Route{ASPath: []route.ASN{1, 666, 2}}})
	if ok {
		t.Fatalf("expected deny for AS-path containing 666")
	}

	r, ok := m.Apply(Context{Route: route.Route{ASPath: []route.ASN{1, 2}}, Prefix: prefix.Flat(1)})
	if !ok {
		t.Fatalf("expected permit for AS-path without 666")
	}
	if len(r.ASPath) != 2 {
		t.Fatalf("unexpected transformation: %v", r.ASPath)
	}
}

func TestPrependOnImport(t *testing.T) {
	m := Map{
		{Match: Always{}, Action: Permit, Sets: []Setter{PrependASPath{ASNs: []route.ASN{9, 9}}}},
	}
	r, ok := m.Apply(Context{Route: route.Route{ASPath: []route.ASN{1, 2, 3}}})
	if !ok {
		t.Fatalf("expected permit")
	}
	want := []route.ASN{9, 9, 1, 2, 3}
	if len(r.ASPath) != len(want) {
		t.Fatalf("unexpected AS-path %v", r.ASPath)
	}
	for i := range want {
		if r.ASPath[i] != want[i] {
			t.Fatalf("unexpected AS-path %v, want %v", r.ASPath, want)
		}
	}
}

func TestLocalPrefOverride(t *testing.T) {
	m := Map{
		{Match: Always{}, Action: Permit, Sets: []Setter{SetLocalPref{Value: 200}}},
	}
	r, ok := m.Apply(Context{Route: route.Route{LocalPref: 100}})
	if !ok || r.LocalPref != 200 {
		t.Fatalf("expected local-pref override to 200, got %d ok=%v", r.LocalPref, ok)
	}
}

func TestNoMatchDeniesByDefault(t *testing.T) {
	var m Map
	_, ok := m.Apply(Context{Route: route.Route{}})
	if ok {
		t.Fatalf("expected empty map to deny by default")
	}
}

func TestPrefixCovers(t *testing.T) {
	agg, _ := prefix.NewCIDR("10.0.0.0/8")
	specific, _ := prefix.NewCIDR("10.1.2.0/24")
	m := Map{
		{Match: PrefixCovers{Prefix: agg}, Action: Permit},
	}
	_, ok := m.Apply(Context{Prefix: specific, Route: route.Route{}})
	if !ok {
		t.Fatalf("expected covering prefix to match")
	}
}
