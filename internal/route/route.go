// Package route defines the BGP route record and the decision-process
// ordering used to pick a single best route among candidates.
package route

import "github.com/netlab/bgpsim/internal/topology"

// ASN is a 32-bit autonomous-system number, matching the AS-path
// element width used throughout modern BGP implementations.
type ASN = topology.ASN

// Origin is the BGP origin code; lower is preferred in the decision
// process (step 3).
type Origin int

const (
	OriginIGP Origin = iota
	OriginEGP
	OriginIncomplete
)

// Route is a BGP route record. All fields are by-value; routes flow
// from sender to queue to receiver and RIBs store owned copies.
type Route struct {
	NextHop     topology.RouterID
	ASPath      []ASN
	LocalPref   int
	MED         int
	Communities []string
	Origin      Origin
}

// Clone returns a deep copy so storing r in a RIB never aliases the
// caller's slices.
func (r Route) Clone() Route {
	out := r
	out.ASPath = append([]ASN(nil), r.ASPath...)
	out.Communities = append([]string(nil), r.Communities...)
	return out
}

// PrependASPath returns a copy of r with asns prepended to the AS-path.
func (r Route) PrependASPath(asns ...ASN) Route {
	out := r.Clone()
	out.ASPath = append(append([]ASN(nil), asns...), out.ASPath...)
	return out
}

// ContainsASN reports whether asn appears anywhere in the AS-path.
func (r Route) ContainsASN(asn ASN) bool {
	for _, a := range r.ASPath {
		if a == asn {
			return true
		}
	}
	return false
}

// HasCommunity reports whether tag is present in the community set.
func (r Route) HasCommunity(tag string) bool {
	for _, c := range r.Communities {
		if c == tag {
			return true
		}
	}
	return false
}

// WithCommunity returns a copy of r with tag added, if not already
// present.
func (r Route) WithCommunity(tag string) Route {
	if r.HasCommunity(tag) {
		return r.Clone()
	}
	out := r.Clone()
	out.Communities = append(out.Communities, tag)
	return out
}

// WithoutCommunity returns a copy of r with tag removed.
func (r Route) WithoutCommunity(tag string) Route {
	out := r.Clone()
	kept := out.Communities[:0]
	for _, c := range out.Communities {
		if c != tag {
			kept = append(kept, c)
		}
	}
	out.Communities = kept
	return out
}

// Candidate is a route annotated with the provenance the decision
// process needs beyond the wire attributes: which peer it was learned
// from, whether that session is eBGP, the advertising router's id (for
// the final deterministic tie-break), and its IGP distance to the
// route's BGP next-hop.
type Candidate struct {
	Route       Route
	Peer        topology.RouterID
	FromEBGP    bool
	IGPDistance float64 // +Inf if the next-hop is currently unreachable
}

// Decide runs the 7-step BGP decision process over candidates and
// returns the winner. ok is false if candidates is empty, meaning the
// prefix should be withdrawn from the local RIB.
func Decide(candidates []Candidate) (best Candidate, ok bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best = candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

// better reports whether a should win over the current best b.
func better(a, b Candidate) bool {
	// 1. Higher local-preference.
	if a.Route.LocalPref != b.Route.LocalPref {
		return a.Route.LocalPref > b.Route.LocalPref
	}
	// 2. Shorter AS-path length.
	if len(a.Route.ASPath) != len(b.Route.ASPath) {
		return len(a.Route.ASPath) < len(b.Route.ASPath)
	}
	// 3. Lower origin code.
	if a.Route.Origin != b.Route.Origin {
		return a.Route.Origin < b.Route.Origin
	}
	// 4. Lower MED, but only among routes whose AS-path starts with the
	//    same leftmost neighboring AS ("always-compare-med off").
	if sameNeighborAS(a.Route, b.Route) && a.Route.MED != b.Route.MED {
		return a.Route.MED < b.Route.MED
	}
	// 5. eBGP learned preferred over iBGP learned.
	if a.FromEBGP != b.FromEBGP {
		return a.FromEBGP
	}
	// 6. Lower IGP distance to the BGP next-hop.
	if a.IGPDistance != b.IGPDistance {
		return a.IGPDistance < b.IGPDistance
	}
	// 7. Lower router-id of the advertising peer (deterministic final
	//    tie-break).
	return a.Peer < b.Peer
}

func sameNeighborAS(a, b Route) bool {
	if len(a.ASPath) == 0 || len(b.ASPath) == 0 {
		return len(a.ASPath) == len(b.ASPath)
	}
	return a.ASPath[0] == b.ASPath[0]
}

// Equal reports whether two routes carry identical attributes.
func Equal(a, b Route) bool {
	if a.NextHop != b.NextHop || a.LocalPref != b.LocalPref || a.MED != b.MED || a.Origin != b.Origin {
		return false
	}
	if len(a.ASPath) != len(b.ASPath) {
		return false
	}
	for i := range a.ASPath {
		if a.ASPath[i] != b.ASPath[i] {
			return false
		}
	}
	if len(a.Communities) != len(b.Communities) {
		return false
	}
	for i := range a.Communities {
		if a.Communities[i] != b.Communities[i] {
			return false
		}
	}
	return true
}
