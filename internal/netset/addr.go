// Package netset implements the set algebra the compiler reasons with:
// canonical collections of IP prefixes and transport port ranges, with
// union, subtraction, subset tests and minimal-cover collapsing.
package netset

import (
	"net/netip"
	"sort"
	"strings"
)

// AddressSet is a deduplicated, address-ordered collection of IP prefixes.
// IPv4 and IPv6 prefixes may coexist in one set; operations never compare
// across families (a v4 prefix and a v6 prefix simply do not overlap).
type AddressSet []netip.Prefix

// ParsePrefix parses a CIDR prefix or a bare IP address (treated as a
// host prefix). The returned prefix is masked to its network address.
func ParsePrefix(s string) (netip.Prefix, error) {
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, &InvalidAddressError{Literal: s, Reason: err.Error()}
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, &InvalidAddressError{Literal: s, Reason: err.Error()}
	}
	return p.Masked(), nil
}

// ParseAddressSet parses a list of literals into a normalized AddressSet.
func ParseAddressSet(literals []string) (AddressSet, error) {
	set := make(AddressSet, 0, len(literals))
	for _, lit := range literals {
		p, err := ParsePrefix(lit)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return normalize(set), nil
}

// MustAddressSet is ParseAddressSet for statically known literals.
// It panics on malformed input and exists for tests and tables.
func MustAddressSet(literals ...string) AddressSet {
	set, err := ParseAddressSet(literals)
	if err != nil {
		panic(err)
	}
	return set
}

// normalize sorts by (family, address, prefix length) and drops duplicates.
func normalize(set AddressSet) AddressSet {
	if len(set) == 0 {
		return nil
	}
	out := make(AddressSet, len(set))
	copy(out, set)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	dedup := out[:1]
	for _, p := range out[1:] {
		if p != dedup[len(dedup)-1] {
			dedup = append(dedup, p)
		}
	}
	return dedup
}

func less(a, b netip.Prefix) bool {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c < 0
	}
	return a.Bits() < b.Bits()
}

// Union merges any number of sets into one normalized set.
func Union(sets ...AddressSet) AddressSet {
	var all AddressSet
	for _, s := range sets {
		all = append(all, s...)
	}
	return normalize(all)
}

// Contains reports whether addr falls inside any prefix of the set.
func (s AddressSet) Contains(addr netip.Addr) bool {
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Strings renders the set's prefixes in canonical order.
func (s AddressSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.String()
	}
	return out
}

// Collapse produces the unique minimal set of non-overlapping prefixes
// covering exactly the same addresses as the input: prefixes contained in
// another are dropped, and sibling prefixes that exactly cover their
// parent merge into it, cascading upward.
func Collapse(set AddressSet) AddressSet {
	sorted := normalize(set)
	if len(sorted) == 0 {
		return nil
	}

	// Drop prefixes already covered by an earlier, shorter one. After the
	// sort a containing prefix always precedes its children.
	kept := make(AddressSet, 0, len(sorted))
	for _, p := range sorted {
		if len(kept) > 0 && covers(kept[len(kept)-1], p) {
			continue
		}
		kept = append(kept, p)
	}

	// Merge sibling pairs bottom-up with a stack so merges cascade.
	stack := make(AddressSet, 0, len(kept))
	for _, p := range kept {
		stack = append(stack, p)
		for len(stack) >= 2 {
			parent, ok := mergeSiblings(stack[len(stack)-2], stack[len(stack)-1])
			if !ok {
				break
			}
			stack = stack[:len(stack)-2]
			stack = append(stack, parent)
		}
	}
	return stack
}

// covers reports whether prefix a fully contains prefix b (same family).
func covers(a, b netip.Prefix) bool {
	if a.Addr().Is4() != b.Addr().Is4() {
		return false
	}
	return a.Bits() <= b.Bits() && a.Contains(b.Addr())
}

// mergeSiblings merges a (low half) and b (high half) into their common
// parent when together they cover it exactly.
func mergeSiblings(a, b netip.Prefix) (netip.Prefix, bool) {
	if a.Addr().Is4() != b.Addr().Is4() || a.Bits() != b.Bits() || a.Bits() == 0 {
		return netip.Prefix{}, false
	}
	parent := netip.PrefixFrom(a.Addr(), a.Bits()-1).Masked()
	if parent.Addr() != a.Addr() {
		return netip.Prefix{}, false
	}
	other := netip.PrefixFrom(b.Addr(), b.Bits()-1).Masked()
	if other != parent || a.Addr() == b.Addr() {
		return netip.Prefix{}, false
	}
	return parent, true
}

// Subtract returns the addresses of a not covered by b, as a collapsed set.
func Subtract(a, b AddressSet) AddressSet {
	if len(b) == 0 {
		return Collapse(a)
	}
	var out AddressSet
	for _, p := range a {
		out = append(out, subtractPrefix(p, b)...)
	}
	return Collapse(out)
}

// subtractPrefix removes every overlapping removal prefix from p by
// splitting p into halves and recursing into the halves that still
// overlap a removal.
func subtractPrefix(p netip.Prefix, removals AddressSet) AddressSet {
	var overlapping AddressSet
	for _, r := range removals {
		if covers(r, p) {
			return nil
		}
		if covers(p, r) {
			overlapping = append(overlapping, r)
		}
	}
	if len(overlapping) == 0 {
		return AddressSet{p}
	}
	low, high := halves(p)
	return append(subtractPrefix(low, overlapping), subtractPrefix(high, overlapping)...)
}

// halves splits p into its two child prefixes.
func halves(p netip.Prefix) (netip.Prefix, netip.Prefix) {
	bits := p.Bits() + 1
	low := netip.PrefixFrom(p.Addr(), bits)
	highAddr := flipBit(p.Addr(), bits)
	return low, netip.PrefixFrom(highAddr, bits)
}

// flipBit sets bit n (1-based from the top) of addr.
func flipBit(addr netip.Addr, n int) netip.Addr {
	raw := addr.As16()
	idx := n - 1
	if addr.Is4() {
		idx += 96
	}
	raw[idx/8] |= 0x80 >> (idx % 8)
	out := netip.AddrFrom16(raw)
	if addr.Is4() {
		return out.Unmap()
	}
	return out
}

// IsSubset reports whether every address of a is covered by b.
// Mixed-length coverage counts: a /24 is a subset of its /16.
func IsSubset(a, b AddressSet) bool {
	if len(a) == 0 {
		return true
	}
	collapsed := Collapse(b)
	for _, p := range a {
		if !containedInAny(p, collapsed) {
			return false
		}
	}
	return true
}

// containedInAny reports whether p sits inside a single prefix of the
// collapsed set. Collapsing guarantees a fully covered prefix is always
// inside exactly one member.
func containedInAny(p netip.Prefix, collapsed AddressSet) bool {
	for _, q := range collapsed {
		if covers(q, p) {
			return true
		}
	}
	return false
}

// Overlaps reports whether the two sets share any address.
func Overlaps(a, b AddressSet) bool {
	for _, p := range a {
		for _, q := range b {
			if covers(p, q) || covers(q, p) {
				return true
			}
		}
	}
	return false
}
