// Package router implements the per-router BGP state machine: RIB-In,
// Local RIB, RIB-Out, and the Import -> Decide -> Install ->
// Re-announce pipeline.
package router

import (
	"math"
	"sort"
	"sync"

	"github.com/netlab/bgpsim/internal/flapdamp"
	"github.com/netlab/bgpsim/internal/igp"
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/queue"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/routemap"
	"github.com/netlab/bgpsim/internal/topology"
)

// SessionType distinguishes the three BGP session flavors that drive
// the iBGP split-horizon and route-reflection rules.
type SessionType int

const (
	EBGP SessionType = iota
	IBGPPeer
	IBGPRRClient
)

func (t SessionType) String() string {
	switch t {
	case EBGP:
		return "ebgp"
	case IBGPPeer:
		return "ibgp-peer"
	case IBGPRRClient:
		return "ibgp-rr-client"
	default:
		return "unknown"
	}
}

// Session describes one BGP session from the owning router's point of
// view: its peer, type, and ordered import/export route-maps.
type Session struct {
	Peer   topology.RouterID
	Type   SessionType
	Import routemap.Map
	Export routemap.Map
}

// Router is one internal BGP speaker.
type Router struct {
	ID  topology.RouterID
	ASN topology.ASN

	mu       sync.RWMutex
	sessions map[topology.RouterID]Session

	ribIn    map[topology.RouterID]map[prefix.Key]route.Route
	local    map[prefix.Key]route.Route
	localSrc map[prefix.Key]topology.RouterID // peer that contributed the current local best
	ribOut   map[topology.RouterID]map[prefix.Key]route.Route

	forwarding map[prefix.Key]map[topology.RouterID]struct{}

	igpTable igp.Table
	damper   *flapdamp.Registry
}

// New returns a router with no sessions and empty RIBs.
func New(id topology.RouterID, asn topology.ASN) *Router {
	return &Router{
		ID:         id,
		ASN:        asn,
		sessions:   make(map[topology.RouterID]Session),
		ribIn:      make(map[topology.RouterID]map[prefix.Key]route.Route),
		local:      make(map[prefix.Key]route.Route),
		localSrc:   make(map[prefix.Key]topology.RouterID),
		ribOut:     make(map[topology.RouterID]map[prefix.Key]route.Route),
		forwarding: make(map[prefix.Key]map[topology.RouterID]struct{}),
	}
}

// SetSession installs or replaces the session to peer.
func (r *Router) SetSession(peer topology.RouterID, typ SessionType, imp, exp routemap.Map) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[peer] = Session{Peer: peer, Type: typ, Import: imp, Export: exp}
}

// RemoveSession tears down the session to peer, discarding any RIB-In
// and RIB-Out state held for it.
func (r *Router) RemoveSession(peer topology.RouterID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, peer)
	delete(r.ribIn, peer)
	delete(r.ribOut, peer)
}

// Sessions returns a snapshot of the router's sessions.
func (r *Router) Sessions() map[topology.RouterID]Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[topology.RouterID]Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// SetIGPTable installs the all-pairs IGP table used to resolve BGP
// next-hops into forwarding first-hops. Called by the orchestrator
// whenever the internal topology changes.
func (r *Router) SetIGPTable(t igp.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.igpTable = t
}

// SetDamper installs the route flap damper consulted during
// re-announcement. A nil damper disables damping.
func (r *Router) SetDamper(d *flapdamp.Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.damper = d
}

// LocalRoute returns the router's currently selected best route for p.
func (r *Router) LocalRoute(p prefix.Key) (route.Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.local[p]
	return rt, ok
}

// RIBIn returns the post-import route most recently received from
// peer for p.
func (r *Router) RIBIn(peer topology.RouterID, p prefix.Key) (route.Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.ribIn[peer][p]
	return rt, ok
}

// RIBOut returns the post-export route last announced to peer for p.
func (r *Router) RIBOut(peer topology.RouterID, p prefix.Key) (route.Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.ribOut[peer][p]
	return rt, ok
}

// ForwardingNextHops returns the set of first-hop router ids used to
// forward traffic for p, per the currently installed best route.
// An empty set means the router itself is the exit point; ok is false
// when no forwarding entry is installed for p.
func (r *Router) ForwardingNextHops(p prefix.Key) ([]topology.RouterID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hops, ok := r.forwarding[p]
	if !ok {
		return nil, false
	}
	out := make([]topology.RouterID, 0, len(hops))
	for h := range hops {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, true
}

// KnownPrefixes returns every prefix this router has an opinion
// about, whether currently installed or merely received, sorted for
// determinism.
func (r *Router) KnownPrefixes() []prefix.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[prefix.Key]struct{})
	for p := range r.local {
		seen[p] = struct{}{}
	}
	for _, byPrefix := range r.ribIn {
		for p := range byPrefix {
			seen[p] = struct{}{}
		}
	}
	out := make([]prefix.Key, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// LocalSnapshot returns a copy of the router's entire Local RIB.
func (r *Router) LocalSnapshot() map[prefix.Key]route.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[prefix.Key]route.Route, len(r.local))
	for p, rt := range r.local {
		out[p] = rt
	}
	return out
}

// RIBOutSnapshot returns a copy of the router's entire RIB-Out.
func (r *Router) RIBOutSnapshot() map[topology.RouterID]map[prefix.Key]route.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[topology.RouterID]map[prefix.Key]route.Route, len(r.ribOut))
	for peer, byPrefix := range r.ribOut {
		m := make(map[prefix.Key]route.Route, len(byPrefix))
		for p, rt := range byPrefix {
			m[p] = rt
		}
		out[peer] = m
	}
	return out
}

// RIBInSnapshot returns a copy of the router's entire RIB-In.
func (r *Router) RIBInSnapshot() map[topology.RouterID]map[prefix.Key]route.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[topology.RouterID]map[prefix.Key]route.Route, len(r.ribIn))
	for peer, byPrefix := range r.ribIn {
		m := make(map[prefix.Key]route.Route, len(byPrefix))
		for p, rt := range byPrefix {
			m[p] = rt
		}
		out[peer] = m
	}
	return out
}

// Reevaluate re-runs Decide -> Install -> Re-announce for p without a
// new incoming event: used after an IGP change, since the BGP best
// path choice or its resolved forwarding next-hop may shift even
// though nothing was received on this prefix.
func (r *Router) Reevaluate(p prefix.Key, tick int64) []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	best, hasBest := r.decide(p)
	current, hasCurrent := r.local[p]
	changed := hasBest != hasCurrent || (hasBest && !route.Equal(best.Route, current))
	if changed {
		if hasBest {
			r.local[p] = best.Route
			r.localSrc[p] = best.Peer
		} else {
			delete(r.local, p)
			delete(r.localSrc, p)
		}
	}
	r.installForwarding(p, hasBest, best)
	return r.reannounce(p, tick)
}

// Handle runs the full Import -> Decide -> Install -> Re-announce
// pipeline for one incoming event, returning the events it emits.
// tick is the simulator's monotonically increasing event counter,
// passed through to the flap damper.
func (r *Router) Handle(e queue.Event, tick int64) []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[e.Source]
	if !ok {
		return nil
	}

	// 1. Import.
	peerIn := r.ribIn[e.Source]
	if peerIn == nil {
		peerIn = make(map[prefix.Key]route.Route)
		r.ribIn[e.Source] = peerIn
	}
	switch e.Kind {
	case queue.Withdraw:
		delete(peerIn, e.Prefix)
	case queue.Update:
		ctx := routemap.Context{Prefix: e.Prefix, IngressPeer: e.Source, Route: e.Route}
		out, permit := sess.Import.Apply(ctx)
		if !permit {
			return nil
		}
		if sess.Type == EBGP {
			out = out.Clone()
			out.NextHop = r.ID
		}
		peerIn[e.Prefix] = out
	}

	// 2. Decide.
	best, hasBest := r.decide(e.Prefix)
	current, hasCurrent := r.local[e.Prefix]
	changed := hasBest != hasCurrent || (hasBest && !route.Equal(best.Route, current))

	// 3. Install.
	if changed {
		if hasBest {
			r.local[e.Prefix] = best.Route
			r.localSrc[e.Prefix] = best.Peer
		} else {
			delete(r.local, e.Prefix)
			delete(r.localSrc, e.Prefix)
		}
		r.installForwarding(e.Prefix, hasBest, best)
	}

	// 4. Re-announce.
	return r.reannounce(e.Prefix, tick)
}

func (r *Router) decide(p prefix.Key) (route.Candidate, bool) {
	var candidates []route.Candidate
	for peer, byPrefix := range r.ribIn {
		rt, ok := byPrefix[p]
		if !ok {
			continue
		}
		sess := r.sessions[peer]
		dist := math.Inf(1)
		if d, ok := r.igpDistance(rt.NextHop); ok {
			dist = d
		}
		candidates = append(candidates, route.Candidate{
			Route:       rt,
			Peer:        peer,
			FromEBGP:    sess.Type == EBGP,
			IGPDistance: dist,
		})
	}
	return route.Decide(candidates)
}

func (r *Router) igpDistance(nextHop topology.RouterID) (float64, bool) {
	if nextHop == r.ID {
		return 0, true
	}
	row, ok := r.igpTable[r.ID]
	if !ok {
		return 0, false
	}
	entry, ok := row[nextHop]
	if !ok {
		return 0, false
	}
	return entry.Distance, true
}

func (r *Router) installForwarding(p prefix.Key, hasBest bool, best route.Candidate) {
	if !hasBest {
		delete(r.forwarding, p)
		return
	}
	if best.Route.NextHop == r.ID {
		r.forwarding[p] = map[topology.RouterID]struct{}{}
		return
	}
	row, ok := r.igpTable[r.ID]
	if !ok {
		delete(r.forwarding, p)
		return
	}
	entry, ok := row[best.Route.NextHop]
	if !ok {
		delete(r.forwarding, p)
		return
	}
	hops := make(map[topology.RouterID]struct{}, len(entry.FirstHops))
	for h := range entry.FirstHops {
		hops[h] = struct{}{}
	}
	r.forwarding[p] = hops
}

// exportable applies the iBGP split-horizon / route-reflection rule:
// a route learned over eBGP, or reflected from an RR client, goes to
// every other session; a route learned from a plain iBGP peer goes
// only to this router's own RR clients.
func exportable(learnedVia, target SessionType) bool {
	switch learnedVia {
	case EBGP, IBGPRRClient:
		return true
	case IBGPPeer:
		return target == IBGPRRClient
	default:
		return true
	}
}

// reannounce re-evaluates the export of p's current local best to
// every session, per the iBGP split-horizon rule, enqueuing an Update
// or Withdraw wherever the export-mapped result differs from
// RIB-Out[q][p].
func (r *Router) reannounce(p prefix.Key, tick int64) []queue.Event {
	bestRoute, hasBest := r.local[p]
	var originPeer topology.RouterID
	var learnedVia SessionType
	if hasBest {
		originPeer = r.localSrc[p]
		learnedVia = r.sessions[originPeer].Type
	}

	peers := make([]topology.RouterID, 0, len(r.sessions))
	for q := range r.sessions {
		peers = append(peers, q)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	var events []queue.Event
	for _, q := range peers {
		if hasBest && q == originPeer {
			continue
		}
		sess := r.sessions[q]
		if hasBest && !exportable(learnedVia, sess.Type) {
			continue
		}
		if e, ok := r.reannounceToPeer(p, q, sess, hasBest, bestRoute, tick); ok {
			events = append(events, e)
		}
	}
	return events
}

// reannounceToPeer computes and, if it differs from RIB-Out[q][p] and
// the flap damper allows it, enqueues the export of p toward q.
func (r *Router) reannounceToPeer(p prefix.Key, q topology.RouterID, sess Session, hasBest bool, bestRoute route.Route, tick int64) (queue.Event, bool) {
	var outRoute route.Route
	var present bool
	if hasBest {
		ctx := routemap.Context{Prefix: p, Route: bestRoute}
		if out, permit := sess.Export.Apply(ctx); permit {
			outRoute, present = out, true
		}
	}

	prior, hadPrior := r.ribOut[q][p]
	if present == hadPrior && (!present || route.Equal(outRoute, prior)) {
		return queue.Event{}, false
	}

	if r.damper != nil {
		if !r.damper.Allow(q, p, tick) {
			return queue.Event{}, false
		}
		r.damper.Record(q, p, present, outRoute, tick)
	}

	if present {
		if r.ribOut[q] == nil {
			r.ribOut[q] = make(map[prefix.Key]route.Route)
		}
		r.ribOut[q][p] = outRoute
		return queue.Event{Source: r.ID, Target: q, Prefix: p, Kind: queue.Update, Route: outRoute}, true
	}
	delete(r.ribOut[q], p)
	return queue.Event{Source: r.ID, Target: q, Prefix: p, Kind: queue.Withdraw}, true
}

// Resync re-announces every currently installed local best route to
// peer, as a fresh Update stream. Used when a session to peer is
// newly established, since RIB-Out for a brand-new peer starts empty
// and would otherwise only be populated by the next incoming event.
func (r *Router) Resync(peer topology.RouterID, tick int64) []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[peer]
	if !ok {
		return nil
	}

	prefixes := make([]prefix.Key, 0, len(r.local))
	for p := range r.local {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i].String() < prefixes[j].String() })

	var events []queue.Event
	for _, p := range prefixes {
		if r.localSrc[p] == peer {
			continue
		}
		learnedVia := r.sessions[r.localSrc[p]].Type
		if !exportable(learnedVia, sess.Type) {
			continue
		}
		if e, ok := r.reannounceToPeer(p, peer, sess, true, r.local[p], tick); ok {
			events = append(events, e)
		}
	}
	return events
}

// Reconcile gives every non-Closed (peer, prefix) breaker this router
// tracks a chance to move forward on its own, independent of any fresh
// event for that exact pair: an Open breaker whose OpenTicks have
// elapsed at tick gets another Allow probe, and a HalfOpen breaker
// gets the repeated stable Record call it needs to accumulate toward
// SuccessThreshold and close. Without this, a breaker that last denied
// a re-announce before the queue went quiet would stay Open forever,
// and a HalfOpen one would never collect the successive calls that
// reannounceToPeer's short-circuit skips once RIB-Out catches up.
func (r *Router) Reconcile(tick int64) []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.damper == nil {
		return nil
	}

	var events []queue.Event
	for _, pair := range r.damper.NonClosedPairs() {
		sess, ok := r.sessions[pair.Peer]
		if !ok {
			r.damper.Reset(pair.Peer, pair.Prefix)
			continue
		}

		bestRoute, hasBest := r.local[pair.Prefix]
		if hasBest {
			origin := r.localSrc[pair.Prefix]
			if origin == pair.Peer || !exportable(r.sessions[origin].Type, sess.Type) {
				hasBest = false
			}
		}

		var outRoute route.Route
		var present bool
		if hasBest {
			ctx := routemap.Context{Prefix: pair.Prefix, Route: bestRoute}
			if out, permit := sess.Export.Apply(ctx); permit {
				outRoute, present = out, true
			}
		}

		if !r.damper.Allow(pair.Peer, pair.Prefix, tick) {
			continue
		}
		prior, hadPrior := r.ribOut[pair.Peer][pair.Prefix]
		r.damper.Record(pair.Peer, pair.Prefix, present, outRoute, tick)
		if present == hadPrior && (!present || route.Equal(outRoute, prior)) {
			continue
		}

		if present {
			if r.ribOut[pair.Peer] == nil {
				r.ribOut[pair.Peer] = make(map[prefix.Key]route.Route)
			}
			r.ribOut[pair.Peer][pair.Prefix] = outRoute
			events = append(events, queue.Event{Source: r.ID, Target: pair.Peer, Prefix: pair.Prefix, Kind: queue.Update, Route: outRoute})
			continue
		}
		delete(r.ribOut[pair.Peer], pair.Prefix)
		events = append(events, queue.Event{Source: r.ID, Target: pair.Peer, Prefix: pair.Prefix, Kind: queue.Withdraw})
	}
	return events
}

// Clone returns a deep, independent copy of the router's state.
func (r *Router) Clone() *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := New(r.ID, r.ASN)
	out.igpTable = r.igpTable
	out.damper = r.damper
	for k, v := range r.sessions {
		out.sessions[k] = v
	}
	for peer, byPrefix := range r.ribIn {
		m := make(map[prefix.Key]route.Route, len(byPrefix))
		for p, rt := range byPrefix {
			m[p] = rt
		}
		out.ribIn[peer] = m
	}
	for p, rt := range r.local {
		out.local[p] = rt
	}
	for p, peer := range r.localSrc {
		out.localSrc[p] = peer
	}
	for peer, byPrefix := range r.ribOut {
		m := make(map[prefix.Key]route.Route, len(byPrefix))
		for p, rt := range byPrefix {
			m[p] = rt
		}
		out.ribOut[peer] = m
	}
	for p, hops := range r.forwarding {
		m := make(map[topology.RouterID]struct{}, len(hops))
		for h := range hops {
			m[h] = struct{}{}
		}
		out.forwarding[p] = m
	}
	return out
}
