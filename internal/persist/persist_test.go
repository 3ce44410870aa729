package persist

import (
	"testing"

	"github.com/netlab/bgpsim/internal/flapdamp"
	"github.com/netlab/bgpsim/internal/network"
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/queue"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/router"
	"github.com/netlab/bgpsim/internal/routemap"
)

func testConfig() network.Config {
	return network.Config{EventBudget: 1000, Damping: flapdamp.DefaultConfig()}
}

func permitAll() routemap.Map {
	return routemap.Map{{Match: routemap.Always{}, Action: routemap.Permit}}
}

func buildSample(t *testing.T) *network.Network {
	t.Helper()
	n := network.New(queue.NewFIFO(), testConfig())
	r0 := n.AddRouter("r0", 100)
	r1 := n.AddRouter("r1", 100)
	ext := n.AddExternalRouter("ext", 200)

	if err := n.AddLink(r0, r1, 3); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := n.AddLink(r0, ext, 1); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	boosted := routemap.Map{{
		Match:  routemap.PrefixEquals{Prefix: mustCIDR(t, "10.0.0.0/24")},
		Action: routemap.Permit,
		Sets:   []routemap.Setter{routemap.SetLocalPref{Value: 200}, routemap.AddCommunity{Tag: "no-export"}},
	}}
	if err := n.SetBGPSession(r0, r1, router.IBGPPeer, permitAll(), permitAll()); err != nil {
		t.Fatalf("SetBGPSession: %v", err)
	}
	if err := n.SetBGPSession(r0, ext, router.EBGP, boosted, permitAll()); err != nil {
		t.Fatalf("SetBGPSession: %v", err)
	}

	p := mustCIDR(t, "10.0.0.0/24")
	if err := n.AdvertiseExternalRoute(ext, p, []route.ASN{200}, 0, []string{"tag"}); err != nil {
		t.Fatalf("AdvertiseExternalRoute: %v", err)
	}
	return n
}

func mustCIDR(t *testing.T, s string) prefix.CIDR {
	t.Helper()
	c, err := prefix.NewCIDR(s)
	if err != nil {
		t.Fatalf("NewCIDR(%q): %v", s, err)
	}
	return c
}

func TestRoundTripPreservesRouterState(t *testing.T) {
	n := buildSample(t)

	doc, err := Encode(mustSnapshot(t, n))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if doc.Version != DocumentVersion {
		t.Fatalf("expected version %d, got %d", DocumentVersion, doc.Version)
	}

	restored, err := Decode(doc, queue.NewFIFO(), testConfig())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !n.WeakEqual(restored) {
		t.Errorf("expected decoded network to weakly equal the original")
	}
}

func TestUnsupportedVersionRejected(t *testing.T) {
	doc := &Document{Version: 99}
	if _, err := Decode(doc, queue.NewFIFO(), testConfig()); err == nil {
		t.Fatalf("expected an error decoding an unknown document version")
	} else if _, ok := err.(*UnsupportedVersionError); !ok {
		t.Errorf("expected UnsupportedVersionError, got %T", err)
	}
}

func TestMatcherAndSetterRoundTrip(t *testing.T) {
	m := routemap.Map{
		{Match: routemap.NextHopEquals{NextHop: 7}, Action: routemap.Deny},
		{
			Match:  routemap.ASPathContains{ASN: 300},
			Action: routemap.Permit,
			Sets: []routemap.Setter{
				routemap.SetMED{Value: 50},
				routemap.PrependASPath{ASNs: []route.ASN{100, 100}},
				routemap.RemoveCommunity{Tag: "x"},
				routemap.SetNextHop{NextHop: 3},
			},
		},
	}
	docs, err := EncodeMap(m)
	if err != nil {
		t.Fatalf("EncodeMap: %v", err)
	}
	back, err := DecodeMap(docs)
	if err != nil {
		t.Fatalf("DecodeMap: %v", err)
	}
	if len(back) != len(m) {
		t.Fatalf("expected %d rules, got %d", len(m), len(back))
	}
}

// TestRouteReflectorSessionSurvivesLowerClientID guards against the
// dedup in Snapshot conflating "lower router id" with "the reflector
// side": it builds the RR client first (so it gets the lower id) and
// checks the round trip still reconstructs the client as
// IBGPRRClient's counterpart rather than collapsing both ends to a
// plain IBGPPeer.
func TestRouteReflectorSessionSurvivesLowerClientID(t *testing.T) {
	n := network.New(queue.NewFIFO(), testConfig())
	client := n.AddRouter("client", 100)
	reflector := n.AddRouter("reflector", 100)

	if err := n.AddLink(client, reflector, 1); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := n.SetBGPSession(reflector, client, router.IBGPRRClient, permitAll(), permitAll()); err != nil {
		t.Fatalf("SetBGPSession: %v", err)
	}

	doc, err := Encode(mustSnapshot(t, n))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var found bool
	for _, s := range doc.Sessions {
		if s.Type != encodeSessionType(router.IBGPRRClient) {
			continue
		}
		found = true
		if s.From != int(reflector) || s.To != int(client) {
			t.Errorf("expected IBGPRRClient session from reflector %d to client %d, got from %d to %d",
				reflector, client, s.From, s.To)
		}
	}
	if !found {
		t.Fatalf("expected an encoded IBGPRRClient session, got %+v", doc.Sessions)
	}

	restored, err := Decode(doc, queue.NewFIFO(), testConfig())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !n.WeakEqual(restored) {
		t.Errorf("expected decoded network to weakly equal the original")
	}

	sessions, err := restored.Sessions(reflector)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if sessions[client].Type != router.IBGPRRClient {
		t.Errorf("expected restored reflector session to client to be IBGPRRClient, got %v", sessions[client].Type)
	}
}

func mustSnapshot(t *testing.T, n *network.Network) Builder {
	t.Helper()
	b, err := Snapshot(n)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return b
}
