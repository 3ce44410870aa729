package flapdamp

import (
	"testing"

	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/route"
)

func TestClosedAllowsByDefault(t *testing.T) {
	r := New(Config{FailureThreshold: 3})
	p := prefix.Flat(1)

	for i := 0; i < 10; i++ {
		if !r.Allow(1, p, int64(i)) {
			t.Errorf("tick %d should be allowed in closed state", i)
		}
		r.Record(1, p, true, route.Route{MED: 1}, int64(i))
	}
}

func TestTogglingTripsOpen(t *testing.T) {
	r := New(Config{FailureThreshold: 3})
	p := prefix.Flat(1)

	for i := 0; i < 3; i++ {
		r.Allow(1, p, int64(i))
		r.Record(1, p, true, route.Route{MED: i}, int64(i)) // MED differs every time: toggle
	}

	if r.State(1, p) != Open {
		t.Fatalf("expected open after 3 toggles, got %s", r.State(1, p))
	}
	if r.Allow(1, p, 3) {
		t.Errorf("expected re-announcement to be suppressed while open")
	}
}

func TestStableRouteNeverTrips(t *testing.T) {
	r := New(Config{FailureThreshold: 2})
	p := prefix.Flat(1)
	same := route.Route{MED: 5}

	for i := 0; i < 20; i++ {
		r.Allow(1, p, int64(i))
		r.Record(1, p, true, same, int64(i))
	}
	if r.State(1, p) != Closed {
		t.Errorf("expected closed, repeated identical announcements are not toggles, got %s", r.State(1, p))
	}
}

func TestOpenTransitionsToHalfOpenAfterTicks(t *testing.T) {
	r := New(Config{FailureThreshold: 2, OpenTicks: 5, SuccessThreshold: 2})
	p := prefix.Flat(1)

	r.Allow(1, p, 0)
	r.Record(1, p, true, route.Route{MED: 1}, 0)
	r.Allow(1, p, 1)
	r.Record(1, p, true, route.Route{MED: 2}, 1)
	if r.State(1, p) != Open {
		t.Fatalf("expected open, got %s", r.State(1, p))
	}

	if r.Allow(1, p, 3) {
		t.Fatalf("expected still suppressed before OpenTicks elapse")
	}
	if !r.Allow(1, p, 6) {
		t.Fatalf("expected half-open probe to be allowed after OpenTicks")
	}
	if r.State(1, p) != HalfOpen {
		t.Errorf("expected half-open, got %s", r.State(1, p))
	}
}

func TestHalfOpenClosesAfterStableSuccesses(t *testing.T) {
	r := New(Config{FailureThreshold: 2, OpenTicks: 1, SuccessThreshold: 2})
	p := prefix.Flat(1)
	r.Allow(1, p, 0)
	r.Record(1, p, true, route.Route{MED: 1}, 0)
	r.Allow(1, p, 1)
	r.Record(1, p, true, route.Route{MED: 2}, 1)

	r.Allow(1, p, 3) // -> half-open
	stable := route.Route{MED: 2}
	r.Record(1, p, true, stable, 3)
	if r.State(1, p) != HalfOpen {
		t.Fatalf("expected still half-open after one stable tick, got %s", r.State(1, p))
	}
	r.Allow(1, p, 4)
	r.Record(1, p, true, stable, 4)
	if r.State(1, p) != Closed {
		t.Errorf("expected closed after SuccessThreshold stable ticks, got %s", r.State(1, p))
	}
}

func TestHalfOpenReopensOnToggle(t *testing.T) {
	r := New(Config{FailureThreshold: 2, OpenTicks: 1, SuccessThreshold: 2})
	p := prefix.Flat(1)
	r.Allow(1, p, 0)
	r.Record(1, p, true, route.Route{MED: 1}, 0)
	r.Allow(1, p, 1)
	r.Record(1, p, true, route.Route{MED: 2}, 1)

	r.Allow(1, p, 3) // -> half-open
	r.Record(1, p, true, route.Route{MED: 7}, 3) // toggles again
	if r.State(1, p) != Open {
		t.Errorf("expected re-open on toggle during half-open, got %s", r.State(1, p))
	}
}

func TestResetClosesAndForgets(t *testing.T) {
	r := New(Config{FailureThreshold: 2})
	p := prefix.Flat(1)
	r.Allow(1, p, 0)
	r.Record(1, p, true, route.Route{MED: 1}, 0)
	r.Allow(1, p, 1)
	r.Record(1, p, true, route.Route{MED: 2}, 1)
	if r.State(1, p) != Open {
		t.Fatalf("expected open, got %s", r.State(1, p))
	}

	r.Reset(1, p)
	if r.State(1, p) != Closed {
		t.Errorf("expected closed after reset, got %s", r.State(1, p))
	}
	if !r.Allow(1, p, 2) {
		t.Errorf("expected allowed after reset")
	}
}

func TestIndependentPerPeerPrefix(t *testing.T) {
	r := New(Config{FailureThreshold: 2})
	p1 := prefix.Flat(1)
	p2 := prefix.Flat(2)

	r.Allow(1, p1, 0)
	r.Record(1, p1, true, route.Route{MED: 1}, 0)
	r.Allow(1, p1, 1)
	r.Record(1, p1, true, route.Route{MED: 2}, 1)
	if r.State(1, p1) != Open {
		t.Fatalf("expected open for p1, got %s", r.State(1, p1))
	}
	if r.State(1, p2) != Closed {
		t.Errorf("p2 breaker must be independent of p1, got %s", r.State(1, p2))
	}
	if r.State(2, p1) != Closed {
		t.Errorf("peer 2 breaker must be independent of peer 1, got %s", r.State(2, p1))
	}
}
