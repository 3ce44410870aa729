// Package flapdamp implements route flap damping (RFC 2439): a
// per-(peer, prefix) breaker that suppresses re-announcement of a
// best path that is toggling too quickly, protecting the event
// budget from oscillating configurations without altering the
// decision process itself.
//
// Structurally this mirrors a request circuit breaker
// (Closed/Open/HalfOpen, failure/success thresholds, an open
// timeout) with "failure" reinterpreted as "the announced route
// changed" and wall-clock time.Duration reinterpreted as a
// simulation tick count, since the simulator has no real clock.
package flapdamp

import (
	"sort"
	"sync"

	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/topology"
)

// State is the breaker state for one (peer, prefix) pair.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls damping sensitivity.
type Config struct {
	// FailureThreshold is the number of consecutive changed recordings
	// that opens the breaker and suppresses re-announcement. An unchanged
	// recording resets the count; there is no time window.
	FailureThreshold int
	// SuccessThreshold is the number of stable ticks in half-open
	// required to close the breaker.
	SuccessThreshold int
	// OpenTicks is how many simulation ticks must pass before an open
	// breaker probes half-open.
	OpenTicks int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 3, OpenTicks: 50}
}

type entry struct {
	state        State
	toggles      int
	successCount int
	openedAt     int64
	last         route.Route
	hasLast      bool
}

type key struct {
	peer   topology.RouterID
	prefix prefix.Key
}

// Registry tracks one breaker per (peer, prefix) pair announced by a
// router.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	entries map[key]*entry
}

// New returns an empty registry using cfg, filling zero fields with
// DefaultConfig's values.
func New(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTicks == 0 {
		cfg.OpenTicks = def.OpenTicks
	}
	return &Registry{cfg: cfg, entries: make(map[key]*entry)}
}

func (r *Registry) entryFor(peer topology.RouterID, p prefix.Key) *entry {
	k := key{peer: peer, prefix: p}
	e, ok := r.entries[k]
	if !ok {
		e = &entry{state: Closed}
		r.entries[k] = e
	}
	return e
}

// State reports the current breaker state for (peer, prefix).
func (r *Registry) State(peer topology.RouterID, p prefix.Key) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryFor(peer, p).state
}

// Allow reports whether re-announcing to peer for prefix, at
// simulation tick, is currently permitted. It must be called once per
// re-announce attempt, immediately followed by Record with the
// outcome.
func (r *Registry) Allow(peer topology.RouterID, p prefix.Key, tick int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryFor(peer, p)
	switch e.state {
	case Closed:
		return true
	case Open:
		if tick-e.openedAt >= r.cfg.OpenTicks {
			e.state = HalfOpen
			e.successCount = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	}
	return true
}

// Record reports the outcome of an allowed re-announcement: present
// is whether a route currently exists (vs. withdrawal), and rt is its
// value when present. Whether this differs from the last recorded
// value determines whether it counts as a toggle.
func (r *Registry) Record(peer topology.RouterID, p prefix.Key, present bool, rt route.Route, tick int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryFor(peer, p)
	changed := !e.hasLast || e.hasLast != present || (present && !route.Equal(e.last, rt))
	e.last, e.hasLast = rt, present

	switch e.state {
	case Closed:
		if changed {
			e.toggles++
			if e.toggles >= r.cfg.FailureThreshold {
				e.state = Open
				e.openedAt = tick
			}
		} else {
			e.toggles = 0
		}
	case HalfOpen:
		if changed {
			e.state = Open
			e.openedAt = tick
			e.toggles = r.cfg.FailureThreshold
			return
		}
		e.successCount++
		if e.successCount >= r.cfg.SuccessThreshold {
			e.state = Closed
			e.toggles = 0
			e.successCount = 0
		}
	}
}

// Reset clears all breaker state for peer and prefix, closing it.
func (r *Registry) Reset(peer topology.RouterID, p prefix.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key{peer: peer, prefix: p})
}

// Pair names one (peer, prefix) breaker tracked by a Registry.
type Pair struct {
	Peer   topology.RouterID
	Prefix prefix.Key
}

// NonClosedPairs lists every (peer, prefix) breaker currently Open or
// HalfOpen, for a caller that wants to give a quiescent breaker a
// chance to probe forward (Open -> HalfOpen) or accumulate the stable
// successes needed to close (HalfOpen -> Closed) even when no fresh
// event touches that exact pair.
func (r *Registry) NonClosedPairs() []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Pair
	for k, e := range r.entries {
		if e.state != Closed {
			out = append(out, Pair{Peer: k.peer, Prefix: k.prefix})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Prefix.Less(out[j].Prefix)
	})
	return out
}
