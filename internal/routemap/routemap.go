// Package routemap implements the ordered match/set rule engine applied
// at session ingress (import) and egress (export).
package routemap

import (
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/topology"
)

// Action is the permit/deny outcome of a rule match.
type Action int

const (
	Permit Action = iota
	Deny
)

// Match predicates. A Matcher never mutates the route; it only reports
// whether the rule applies.
type Matcher interface {
	Match(ctx Context) bool
}

// Context is the information a Matcher or Setter needs beyond the route
// itself: which prefix it is for and which peer it was learned from
// (zero value for export, where the ingress peer is no longer
// meaningful).
type Context struct {
	Prefix      prefix.Key
	IngressPeer topology.RouterID
	Route       route.Route
}

// Always matches unconditionally, used for default-permit/deny rules.
type Always struct{}

func (Always) Match(Context) bool { return true }

// PrefixEquals matches an exact prefix.
type PrefixEquals struct{ Prefix prefix.Key }

func (m PrefixEquals) Match(ctx Context) bool { return ctx.Prefix == m.Prefix }

// PrefixCovers matches when m.Prefix covers (or equals) ctx.Prefix,
// using the prefix variant's Coverer capability when available.
type PrefixCovers struct{ Prefix prefix.Key }

func (m PrefixCovers) Match(ctx Context) bool {
	c, ok := m.Prefix.(prefix.Coverer)
	if !ok {
		return m.Prefix == ctx.Prefix
	}
	return c.Covers(ctx.Prefix)
}

// NextHopEquals matches on the route's current next-hop.
type NextHopEquals struct{ NextHop topology.RouterID }

func (m NextHopEquals) Match(ctx Context) bool { return ctx.Route.NextHop == m.NextHop }

// ASPathContains matches when asn appears anywhere in the AS-path.
type ASPathContains struct{ ASN route.ASN }

func (m ASPathContains) Match(ctx Context) bool { return ctx.Route.ContainsASN(m.ASN) }

// CommunityContains matches when tag is present in the community set.
type CommunityContains struct{ Tag string }

func (m CommunityContains) Match(ctx Context) bool { return ctx.Route.HasCommunity(m.Tag) }

// Setter applies an attribute overwrite to a route that matched.
type Setter interface {
	Set(r route.Route) route.Route
}

// SetLocalPref overwrites local-preference.
type SetLocalPref struct{ Value int }

func (s SetLocalPref) Set(r route.Route) route.Route { out := r.Clone(); out.LocalPref = s.Value; return out }

// SetMED overwrites MED.
type SetMED struct{ Value int }

func (s SetMED) Set(r route.Route) route.Route { out := r.Clone(); out.MED = s.Value; return out }

// PrependASPath prepends ASNs to the AS-path.
type PrependASPath struct{ ASNs []route.ASN }

func (s PrependASPath) Set(r route.Route) route.Route { return r.PrependASPath(s.ASNs...) }

// AddCommunity adds a community tag.
type AddCommunity struct{ Tag string }

func (s AddCommunity) Set(r route.Route) route.Route { return r.WithCommunity(s.Tag) }

// RemoveCommunity removes a community tag.
type RemoveCommunity struct{ Tag string }

func (s RemoveCommunity) Set(r route.Route) route.Route { return r.WithoutCommunity(s.Tag) }

// SetNextHop overwrites the next-hop.
type SetNextHop struct{ NextHop topology.RouterID }

func (s SetNextHop) Set(r route.Route) route.Route {
	out := r.Clone()
	out.NextHop = s.NextHop
	return out
}

// Rule is one (match-predicate, action) entry; a permit rule may carry
// a set-list that overwrites specific attributes.
type Rule struct {
	Match  Matcher
	Action Action
	Sets   []Setter
}

// Map is an ordered list of rules, evaluated first-match-wins.
type Map []Rule

// Apply evaluates m against ctx in declared order. The first matching
// rule decides: Deny drops the route (ok=false); Permit applies the
// rule's set-list and returns the transformed route. A Map with no
// matching rule denies by default, matching the "first match decides"
// contract — callers that want implicit permit should add a trailing
// Always/Permit rule.
func (m Map) Apply(ctx Context) (route.Route, bool) {
	for _, rule := range m {
		if !rule.Match.Match(ctx) {
			continue
		}
		if rule.Action == Deny {
			return route.Route{}, false
		}
		out := ctx.Route
		for _, s := range rule.Sets {
			out = s.Set(out)
		}
		return out, true
	}
	return route.Route{}, false
}
