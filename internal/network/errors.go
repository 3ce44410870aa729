package network

import (
	"fmt"

	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/topology"
)

// SessionConflictError reports a set_bgp_session request incompatible
// with the endpoints' kind or AS membership.
type SessionConflictError struct {
	U, V   topology.RouterID
	Reason string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("session conflict %d<->%d: %s", e.U, e.V, e.Reason)
}

// NonConvergenceError reports that simulate exhausted its event
// budget before the queue drained; the network is left at a
// self-consistent intermediate snapshot.
type NonConvergenceError struct {
	Budget    int
	Remaining int
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("non-convergence: exhausted event budget %d with %d events still queued", e.Budget, e.Remaining)
}

// BlackHoleError reports that a path query terminated at an internal
// router with no forwarding entry for the prefix.
type BlackHoleError struct {
	Router topology.RouterID
	Prefix prefix.Key
}

func (e *BlackHoleError) Error() string {
	return fmt.Sprintf("black hole at router %d for prefix %s", e.Router, e.Prefix)
}

// ForwardingLoopError reports that path-following revisited a router.
type ForwardingLoopError struct {
	Router topology.RouterID
	Prefix prefix.Key
}

func (e *ForwardingLoopError) Error() string {
	return fmt.Sprintf("forwarding loop at router %d for prefix %s", e.Router, e.Prefix)
}

// NotExternalError reports an operation that requires an external
// router id being given an internal one.
type NotExternalError struct{ ID topology.RouterID }

func (e *NotExternalError) Error() string {
	return fmt.Sprintf("router %d is not an external router", e.ID)
}

// NotInternalError reports an operation that requires an internal
// router id being given an external one.
type NotInternalError struct{ ID topology.RouterID }

func (e *NotInternalError) Error() string {
	return fmt.Sprintf("router %d is not an internal router", e.ID)
}
