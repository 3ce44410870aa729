package prefix

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// CIDR is the longest-prefix-match prefix variant, backed by
// net/netip.Prefix. Two CIDRs are equal (and thus map-key identical)
// only when their masked form matches exactly.
type CIDR struct {
	p netip.Prefix
}

// NewCIDR canonicalizes s (e.g. "10.0.0.0/8") into a CIDR key.
func NewCIDR(s string) (CIDR, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return CIDR{}, err
	}
	return CIDR{p: p.Masked()}, nil
}

func (c CIDR) String() string { return c.p.String() }

// Less orders CIDRs by address family, then address, then mask length,
// giving a stable total order for deterministic serialization.
func (c CIDR) Less(other Key) bool {
	o, ok := other.(CIDR)
	if !ok {
		return false
	}
	if c.p.Addr().Is4() != o.p.Addr().Is4() {
		return c.p.Addr().Is4()
	}
	if c.p.Addr() != o.p.Addr() {
		return c.p.Addr().Less(o.p.Addr())
	}
	return c.p.Bits() < o.p.Bits()
}

// Covers reports whether c is an equal-or-less-specific supernet of
// other, i.e. other's attributes are inherited from c when no
// more-specific entry for other exists. Answered with a one-entry
// bart.Table LPM lookup rather than hand-rolled bit masking, so a
// single Covers call and a bulk LPMTable lookup go through the same
// trie logic.
func (c CIDR) Covers(other Key) bool {
	o, ok := other.(CIDR)
	if !ok {
		return false
	}
	t := NewLPMTable[struct{}]()
	t.Insert(c, struct{}{})
	_, found := t.Lookup(o)
	return found
}

// LPMTable implements the "more-specific inherits from its covering
// prefix when no more-specific exists" rule using a real
// longest-prefix-match trie rather than a linear Covers scan, for
// callers (route-map covers-matching, RIB inheritance) that hold many
// CIDR entries at once.
type LPMTable[V any] struct {
	t bart.Table[V]
}

// NewLPMTable constructs an empty table.
func NewLPMTable[V any]() *LPMTable[V] { return &LPMTable[V]{} }

// Insert records the value associated with an exact CIDR.
func (t *LPMTable[V]) Insert(c CIDR, v V) { t.t.Insert(c.p, v) }

// Delete removes the exact-match entry for c, if present.
func (t *LPMTable[V]) Delete(c CIDR) { t.t.Delete(c.p) }

// Lookup returns the value of the longest entry in the table that
// covers c — an exact match if one exists, otherwise the closest
// covering supernet, otherwise ok is false.
func (t *LPMTable[V]) Lookup(c CIDR) (v V, ok bool) {
	_, v, ok = t.t.LookupPrefixLPM(c.p)
	return v, ok
}
