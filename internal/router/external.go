package router

import (
	"sort"
	"sync"

	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/queue"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/topology"
)

// ExternalRouter is a router outside the simulated AS mesh: it only
// originates and retracts advertisements, broadcasting the same route
// per prefix to every eBGP neighbor, and records (without acting on)
// whatever its internal neighbors send it.
type ExternalRouter struct {
	ID  topology.RouterID
	ASN topology.ASN

	mu        sync.RWMutex
	neighbors map[topology.RouterID]struct{}
	current   map[prefix.Key]route.Route
	received  map[topology.RouterID]map[prefix.Key]route.Route
}

// NewExternal returns an external router with no eBGP neighbors yet.
func NewExternal(id topology.RouterID, asn topology.ASN) *ExternalRouter {
	return &ExternalRouter{
		ID:        id,
		ASN:       asn,
		neighbors: make(map[topology.RouterID]struct{}),
		current:   make(map[prefix.Key]route.Route),
		received:  make(map[topology.RouterID]map[prefix.Key]route.Route),
	}
}

// AddNeighbor registers an eBGP session to an internal router and
// returns the Update events needed to resync the new neighbor to
// whatever this router is already advertising.
func (e *ExternalRouter) AddNeighbor(internal topology.RouterID) []queue.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.neighbors[internal] = struct{}{}

	events := make([]queue.Event, 0, len(e.current))
	for _, p := range e.sortedPrefixes() {
		events = append(events, queue.Event{Source: e.ID, Target: internal, Prefix: p, Kind: queue.Update, Route: e.current[p]})
	}
	return events
}

// RemoveNeighbor tears down the eBGP session to internal.
func (e *ExternalRouter) RemoveNeighbor(internal topology.RouterID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.neighbors, internal)
}

// Advertise announces rt for p to every current eBGP neighbor.
func (e *ExternalRouter) Advertise(p prefix.Key, rt route.Route) []queue.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current[p] = rt

	events := make([]queue.Event, 0, len(e.neighbors))
	for _, n := range e.sortedNeighbors() {
		events = append(events, queue.Event{Source: e.ID, Target: n, Prefix: p, Kind: queue.Update, Route: rt})
	}
	return events
}

// Retract withdraws p from every current eBGP neighbor.
func (e *ExternalRouter) Retract(p prefix.Key) []queue.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.current, p)

	events := make([]queue.Event, 0, len(e.neighbors))
	for _, n := range e.sortedNeighbors() {
		events = append(events, queue.Event{Source: e.ID, Target: n, Prefix: p, Kind: queue.Withdraw})
	}
	return events
}

// Handle records an incoming message for inspection; the external
// router never reacts to or forwards it.
func (e *ExternalRouter) Handle(ev queue.Event) []queue.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	peerIn := e.received[ev.Source]
	if peerIn == nil {
		peerIn = make(map[prefix.Key]route.Route)
		e.received[ev.Source] = peerIn
	}
	switch ev.Kind {
	case queue.Withdraw:
		delete(peerIn, ev.Prefix)
	case queue.Update:
		peerIn[ev.Prefix] = ev.Route
	}
	return nil
}

// Current reports the route currently being advertised for p, the
// same to every neighbor.
func (e *ExternalRouter) Current(p prefix.Key) (route.Route, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt, ok := e.current[p]
	return rt, ok
}

// Received reports what was last recorded as received from neighbor
// for p, for introspection only.
func (e *ExternalRouter) Received(neighbor topology.RouterID, p prefix.Key) (route.Route, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt, ok := e.received[neighbor][p]
	return rt, ok
}

// KnownPrefixes returns every prefix this external router currently
// advertises, sorted for determinism.
func (e *ExternalRouter) KnownPrefixes() []prefix.Key {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedPrefixes()
}

// CurrentSnapshot returns a copy of every prefix currently advertised.
func (e *ExternalRouter) CurrentSnapshot() map[prefix.Key]route.Route {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[prefix.Key]route.Route, len(e.current))
	for p, rt := range e.current {
		out[p] = rt
	}
	return out
}

func (e *ExternalRouter) sortedNeighbors() []topology.RouterID {
	out := make([]topology.RouterID, 0, len(e.neighbors))
	for n := range e.neighbors {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *ExternalRouter) sortedPrefixes() []prefix.Key {
	out := make([]prefix.Key, 0, len(e.current))
	for p := range e.current {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
