// Package network implements the orchestrator: the sole public handle
// over the topology graph, the router arena, and the event queue. It
// owns every mutation and drives convergence.
package network

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/netlab/bgpsim/internal/flapdamp"
	"github.com/netlab/bgpsim/internal/igp"
	"github.com/netlab/bgpsim/internal/metrics"
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/queue"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/router"
	"github.com/netlab/bgpsim/internal/routemap"
	"github.com/netlab/bgpsim/internal/topology"
)

// Network is the orchestrator. The graph, the per-router state, and
// the event queue are parallel stores it alone mutates; external
// callers only ever hold router ids.
type Network struct {
	mu sync.Mutex

	graph    *topology.Graph
	internal map[topology.RouterID]*router.Router
	external map[topology.RouterID]*router.ExternalRouter

	q        queue.Queue
	igpTable igp.Table
	igpStale bool

	damperCfg   flapdamp.Config
	eventBudget int
	tick        int64

	metrics *metrics.Metrics
}

// Config controls the orchestrator's convergence budget and route
// flap damping sensitivity. Metrics is optional; when nil, Simulate
// reports nothing to Prometheus.
type Config struct {
	EventBudget int
	Damping     flapdamp.Config
	Metrics     *metrics.Metrics
}

// DefaultEventBudget bounds simulate against pathological
// oscillation when the caller supplies no explicit budget.
const DefaultEventBudget = 10000

// New returns an empty network using q as its event queue variant.
func New(q queue.Queue, cfg Config) *Network {
	budget := cfg.EventBudget
	if budget <= 0 {
		budget = DefaultEventBudget
	}
	return &Network{
		graph:       topology.New(),
		internal:    make(map[topology.RouterID]*router.Router),
		external:    make(map[topology.RouterID]*router.ExternalRouter),
		q:           q,
		damperCfg:   cfg.Damping,
		eventBudget: budget,
		metrics:     cfg.Metrics,
	}
}

// AddRouter creates a new internal BGP speaker and returns its id.
func (n *Network) AddRouter(name string, asn topology.ASN) topology.RouterID {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.graph.AddRouter(name, asn)
	r := router.New(id, asn)
	r.SetDamper(flapdamp.New(n.damperCfg))
	n.internal[id] = r
	n.igpStale = true
	return id
}

// AddExternalRouter creates a new external router and returns its id.
func (n *Network) AddExternalRouter(name string, asn topology.ASN) topology.RouterID {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.graph.AddExternalRouter(name, asn)
	n.external[id] = router.NewExternal(id, asn)
	return id
}

// AddLink adds a topology edge. Internal-internal links are added
// symmetrically as one transactional operation.
func (n *Network) AddLink(u, v topology.RouterID, weight float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ru, ok := n.graph.Router(u)
	if !ok {
		return &topology.UnknownRouterError{ID: u}
	}
	rv, ok := n.graph.Router(v)
	if !ok {
		return &topology.UnknownRouterError{ID: v}
	}

	if err := n.graph.AddLink(u, v, weight); err != nil {
		return err
	}
	if ru.Kind == topology.Internal && rv.Kind == topology.Internal {
		if err := n.graph.AddLink(v, u, weight); err != nil {
			_ = n.graph.RemoveLink(u, v)
			return err
		}
	}
	if ru.Kind == topology.Internal || rv.Kind == topology.Internal {
		n.igpStale = true
	}
	return n.simulateLocked()
}

// RemoveLink removes a topology edge, symmetrically for
// internal-internal pairs.
func (n *Network) RemoveLink(u, v topology.RouterID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ru, ok := n.graph.Router(u)
	if !ok {
		return &topology.UnknownRouterError{ID: u}
	}
	rv, ok := n.graph.Router(v)
	if !ok {
		return &topology.UnknownRouterError{ID: v}
	}
	if err := n.graph.RemoveLink(u, v); err != nil {
		return err
	}
	if ru.Kind == topology.Internal && rv.Kind == topology.Internal {
		_ = n.graph.RemoveLink(v, u)
	}
	n.igpStale = true
	return n.simulateLocked()
}

// SetLinkWeight updates the weight of edge u->v and re-evaluates
// every router's routes whose IGP resolution may have moved.
func (n *Network) SetLinkWeight(u, v topology.RouterID, weight float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.graph.SetLinkWeight(u, v, weight); err != nil {
		return err
	}
	n.igpStale = true
	return n.simulateLocked()
}

// SetBGPSession establishes or modifies the session between u and v.
// typ is taken from u's perspective; when typ is IBGPRRClient, v is
// installed as u's plain iBGP peer (the client does not need to know
// it is being reflected), reproducing standard route-reflector
// asymmetry from a single session call. import and export are applied
// identically in both directions.
func (n *Network) SetBGPSession(u, v topology.RouterID, typ router.SessionType, imp, exp routemap.Map) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ru, ok := n.graph.Router(u)
	if !ok {
		return &topology.UnknownRouterError{ID: u}
	}
	rv, ok := n.graph.Router(v)
	if !ok {
		return &topology.UnknownRouterError{ID: v}
	}

	if typ == router.EBGP {
		if ru.Kind == topology.Internal && rv.Kind == topology.Internal && ru.ASN == rv.ASN {
			return &SessionConflictError{U: u, V: v, Reason: "eBGP session requires different autonomous systems"}
		}
	} else {
		if ru.Kind == topology.External || rv.Kind == topology.External {
			return &SessionConflictError{U: u, V: v, Reason: "iBGP session cannot involve an external router"}
		}
		if ru.ASN != rv.ASN {
			return &SessionConflictError{U: u, V: v, Reason: "iBGP session requires the same autonomous system"}
		}
	}

	uType, vType := typ, typ
	if typ == router.IBGPRRClient {
		vType = router.IBGPPeer
	}

	var events []queue.Event
	events = append(events, n.installSessionEndpoint(u, ru.Kind, v, uType, imp, exp)...)
	events = append(events, n.installSessionEndpoint(v, rv.Kind, u, vType, imp, exp)...)
	n.enqueueLocked(events)
	return n.simulateLocked()
}

func (n *Network) installSessionEndpoint(id topology.RouterID, kind topology.Kind, peer topology.RouterID, typ router.SessionType, imp, exp routemap.Map) []queue.Event {
	if kind == topology.Internal {
		n.internal[id].SetSession(peer, typ, imp, exp)
		return n.internal[id].Resync(peer, n.tick)
	}
	return n.external[id].AddNeighbor(peer)
}

// AdvertiseExternalRoute originates a route for p at external router
// e, with med defaulting to 0 and origin defaulting to IGP when the
// caller has no finer-grained value.
func (n *Network) AdvertiseExternalRoute(e topology.RouterID, p prefix.Key, asPath []route.ASN, med int, communities []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ext, err := n.externalRouter(e)
	if err != nil {
		return err
	}
	rt := route.Route{
		NextHop:     e,
		ASPath:      append([]route.ASN(nil), asPath...),
		MED:         med,
		Communities: append([]string(nil), communities...),
		Origin:      route.OriginIGP,
	}
	n.enqueueLocked(ext.Advertise(p, rt))
	return n.simulateLocked()
}

// RetractExternalRoute withdraws p from external router e.
func (n *Network) RetractExternalRoute(e topology.RouterID, p prefix.Key) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ext, err := n.externalRouter(e)
	if err != nil {
		return err
	}
	n.enqueueLocked(ext.Retract(p))
	return n.simulateLocked()
}

func (n *Network) externalRouter(id topology.RouterID) (*router.ExternalRouter, error) {
	r, ok := n.graph.Router(id)
	if !ok {
		return nil, &topology.UnknownRouterError{ID: id}
	}
	if r.Kind != topology.External {
		return nil, &NotExternalError{ID: id}
	}
	return n.external[id], nil
}

func (n *Network) internalRouter(id topology.RouterID) (*router.Router, error) {
	r, ok := n.graph.Router(id)
	if !ok {
		return nil, &topology.UnknownRouterError{ID: id}
	}
	if r.Kind != topology.Internal {
		return nil, &NotInternalError{ID: id}
	}
	return n.internal[id], nil
}

// Simulate drains the event queue to a fixed point, recomputing the
// IGP table first if a topology mutation made it stale.
func (n *Network) Simulate() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	startTick := n.tick
	err := n.simulateLocked()

	if n.metrics != nil {
		n.metrics.RecordSimulate(int(n.tick-startTick), err == nil)
		n.metrics.SetQueueLength(n.q.Len())
		n.metrics.SetActiveSessions(n.activeSessionCountLocked())
	}
	return err
}

func (n *Network) simulateLocked() error {
	if n.igpStale {
		n.recomputeIGPLocked()
	}
	var processed int
	for {
		for n.q.Len() > 0 {
			if processed >= n.eventBudget {
				return &NonConvergenceError{Budget: n.eventBudget, Remaining: n.q.Len()}
			}
			e, ok := n.q.Pop()
			if !ok {
				break
			}
			processed++
			n.tick++

			var out []queue.Event
			if r, ok := n.internal[e.Target]; ok {
				out = r.Handle(e, n.tick)
			} else if ext, ok := n.external[e.Target]; ok {
				out = ext.Handle(e)
			}
			n.enqueueLocked(out)
			if n.metrics != nil {
				n.metrics.SetQueueLength(n.q.Len())
			}
		}

		// The queue is quiescent, but a route flap damper may still hold
		// a breaker Open (whose OpenTicks already elapsed without any
		// further event for that exact pair) or HalfOpen (waiting on
		// repeated stable probes reannounceToPeer never generates once
		// RIB-Out catches up). Give every router's breakers one more
		// chance to move before declaring convergence.
		if processed >= n.eventBudget {
			return &NonConvergenceError{Budget: n.eventBudget, Remaining: n.q.Len()}
		}
		var produced bool
		for _, id := range n.sortedInternalIDsLocked() {
			out := n.internal[id].Reconcile(n.tick)
			if len(out) > 0 {
				produced = true
			}
			n.enqueueLocked(out)
			if n.metrics != nil {
				n.metrics.SetQueueLength(n.q.Len())
			}
		}
		if !produced {
			return nil
		}
	}
}

// activeSessionCountLocked counts each established BGP session once:
// an eBGP session is only ever visible from its internal side, and an
// internal-internal pair is counted from whichever end has the lower
// id, so both sides of the same session aren't double-counted.
func (n *Network) activeSessionCountLocked() int {
	var count int
	for _, id := range n.sortedInternalIDsLocked() {
		for peer := range n.internal[id].Sessions() {
			if _, isInternal := n.internal[peer]; isInternal && peer < id {
				continue
			}
			count++
		}
	}
	return count
}

func (n *Network) recomputeIGPLocked() {
	n.igpTable = igp.Compute(n.graph)
	for _, r := range n.internal {
		r.SetIGPTable(n.igpTable)
	}
	n.igpStale = false

	for _, p := range n.knownPrefixesLocked() {
		for _, id := range n.sortedInternalIDsLocked() {
			n.enqueueLocked(n.internal[id].Reevaluate(p, n.tick))
		}
	}
}

func (n *Network) knownPrefixesLocked() []prefix.Key {
	seen := make(map[prefix.Key]struct{})
	for _, r := range n.internal {
		for _, p := range r.KnownPrefixes() {
			seen[p] = struct{}{}
		}
	}
	for _, ext := range n.external {
		for _, p := range ext.KnownPrefixes() {
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

func (n *Network) sortedInternalIDsLocked() []topology.RouterID {
	out := make([]topology.RouterID, 0, len(n.internal))
	for id := range n.internal {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (n *Network) enqueueLocked(events []queue.Event) {
	for _, e := range events {
		n.q.Push(e)
	}
}

// GetRoute follows forwarding next-hops from "from" toward p until it
// reaches an external router or the border router that originates
// locally, returning the full hop list.
func (n *Network) GetRoute(from topology.RouterID, p prefix.Key) ([]topology.RouterID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.graph.Exists(from) {
		return nil, &topology.UnknownRouterError{ID: from}
	}

	path := []topology.RouterID{from}
	visited := map[topology.RouterID]struct{}{from: {}}
	cur := from
	for {
		r, ok := n.internal[cur]
		if !ok {
			return path, nil
		}
		hops, ok := r.ForwardingNextHops(p)
		if !ok {
			return path, &BlackHoleError{Router: cur, Prefix: p}
		}
		if len(hops) == 0 {
			return path, nil
		}
		next := hops[0]
		if _, seen := visited[next]; seen {
			return path, &ForwardingLoopError{Router: next, Prefix: p}
		}
		visited[next] = struct{}{}
		path = append(path, next)
		cur = next
	}
}

// GetRIBIn returns the post-import route held by r for p, received
// from peer.
func (n *Network) GetRIBIn(r, peer topology.RouterID, p prefix.Key) (route.Route, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ir, err := n.internalRouter(r)
	if err != nil {
		return route.Route{}, false, err
	}
	rt, ok := ir.RIBIn(peer, p)
	return rt, ok, nil
}

// GetLocalRIB returns r's currently selected best route for p.
func (n *Network) GetLocalRIB(r topology.RouterID, p prefix.Key) (route.Route, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ir, err := n.internalRouter(r)
	if err != nil {
		return route.Route{}, false, err
	}
	rt, ok := ir.LocalRoute(p)
	return rt, ok, nil
}

// GetRIBOut returns the post-export route r last announced to peer
// for p.
func (n *Network) GetRIBOut(r, peer topology.RouterID, p prefix.Key) (route.Route, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ir, err := n.internalRouter(r)
	if err != nil {
		return route.Route{}, false, err
	}
	rt, ok := ir.RIBOut(peer, p)
	return rt, ok, nil
}

// Neighbors returns the topology neighbors of u.
func (n *Network) Neighbors(u topology.RouterID) ([]topology.RouterID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.graph.Exists(u) {
		return nil, &topology.UnknownRouterError{ID: u}
	}
	return n.graph.Neighbors(u), nil
}

// RouterIDs returns every router id in the network, sorted.
func (n *Network) RouterIDs() []topology.RouterID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.graph.Routers()
}

// KnownPrefixes returns every prefix any router in the network has an
// opinion on, sorted for deterministic reporting.
func (n *Network) KnownPrefixes() []prefix.Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.knownPrefixesLocked()
}

// RouterInfo returns the identity record for id.
func (n *Network) RouterInfo(id topology.RouterID) (topology.Router, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.graph.Router(id)
	if !ok {
		return topology.Router{}, &topology.UnknownRouterError{ID: id}
	}
	return r, nil
}

// LinkInfo describes one directed topology edge, for inspection and
// serialization.
type LinkInfo struct {
	From, To topology.RouterID
	Weight   float64
}

// Links returns every directed edge in the topology, sorted by
// (From, To) for deterministic serialization.
func (n *Network) Links() []LinkInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []LinkInfo
	for _, from := range n.graph.Routers() {
		for _, to := range n.graph.Neighbors(from) {
			w, _ := n.graph.Weight(from, to)
			out = append(out, LinkInfo{From: from, To: to, Weight: w})
		}
	}
	return out
}

// Sessions returns a snapshot of r's sessions, keyed by peer.
func (n *Network) Sessions(r topology.RouterID) (map[topology.RouterID]router.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ir, err := n.internalRouter(r)
	if err != nil {
		return nil, err
	}
	return ir.Sessions(), nil
}

// Advertisements returns a snapshot of every prefix e currently
// originates.
func (n *Network) Advertisements(e topology.RouterID) (map[prefix.Key]route.Route, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ext, err := n.externalRouter(e)
	if err != nil {
		return nil, err
	}
	return ext.CurrentSnapshot(), nil
}

// QueueSnapshot returns the pending events in order, without
// consuming them.
func (n *Network) QueueSnapshot() []queue.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return drainClone(n.q)
}

// Clone returns a deep, independent copy of the network, including
// its queued events.
func (n *Network) Clone() *Network {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := &Network{
		graph:       n.graph.Clone(),
		internal:    make(map[topology.RouterID]*router.Router, len(n.internal)),
		external:    make(map[topology.RouterID]*router.ExternalRouter, len(n.external)),
		q:           n.q.Clone(),
		damperCfg:   n.damperCfg,
		eventBudget: n.eventBudget,
		tick:        n.tick,
		igpStale:    n.igpStale,
		metrics:     n.metrics,
	}
	for id, r := range n.internal {
		out.internal[id] = r.Clone()
	}
	for id, ext := range n.external {
		clone := router.NewExternal(ext.ID, ext.ASN)
		for _, iid := range n.sortedInternalIDsLocked() {
			if _, ok := n.internal[iid].Sessions()[id]; ok {
				clone.AddNeighbor(iid)
			}
		}
		for _, p := range ext.KnownPrefixes() {
			rt, _ := ext.Current(p)
			clone.Advertise(p, rt)
		}
		out.external[id] = clone
	}
	if !out.igpStale {
		out.igpTable = n.igpTable
	}
	return out
}

// Equal reports whether n and other hold identical router state and
// an identical, order-preserved pending event queue.
func (n *Network) Equal(other *Network) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if !n.routerStateEqualLocked(other) {
		return false
	}
	return reflect.DeepEqual(drainClone(n.q), drainClone(other.q))
}

// WeakEqual reports whether n and other hold identical router state
// and the same pending events up to reordering: the queues are compared
// as multisets of events, whatever the queue variant.
func (n *Network) WeakEqual(other *Network) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if !n.routerStateEqualLocked(other) {
		return false
	}
	return reflect.DeepEqual(eventMultiset(drainClone(n.q)), eventMultiset(drainClone(other.q)))
}

func (n *Network) routerStateEqualLocked(other *Network) bool {
	if len(n.internal) != len(other.internal) || len(n.external) != len(other.external) {
		return false
	}
	for id, r := range n.internal {
		or, ok := other.internal[id]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(r.Sessions(), or.Sessions()) ||
			!reflect.DeepEqual(r.LocalSnapshot(), or.LocalSnapshot()) ||
			!reflect.DeepEqual(r.RIBInSnapshot(), or.RIBInSnapshot()) ||
			!reflect.DeepEqual(r.RIBOutSnapshot(), or.RIBOutSnapshot()) {
			return false
		}
	}
	for id, e := range n.external {
		oe, ok := other.external[id]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(e.CurrentSnapshot(), oe.CurrentSnapshot()) {
			return false
		}
	}
	return true
}

// drainClone pops every event from a clone of q, leaving the original
// untouched, so equality checks never consume the live queue.
func drainClone(q queue.Queue) []queue.Event {
	clone := q.Clone()
	var out []queue.Event
	for {
		e, ok := clone.Pop()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

func eventMultiset(events []queue.Event) map[string]int {
	out := make(map[string]int, len(events))
	for _, e := range events {
		out[fmt.Sprintf("%+v", e)]++
	}
	return out
}
