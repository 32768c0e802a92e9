package netset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PortRange is an inclusive span of ports for one transport protocol.
type PortRange struct {
	Protocol string
	Lo, Hi   uint16
}

func (r PortRange) String() string {
	if r.Lo == r.Hi {
		return fmt.Sprintf("%d/%s", r.Lo, r.Protocol)
	}
	return fmt.Sprintf("%d-%d/%s", r.Lo, r.Hi, r.Protocol)
}

// PortSet is a normalized collection of port ranges: sorted by
// (protocol, low port), with overlapping and adjacent ranges of the same
// protocol merged.
type PortSet []PortRange

// ParsePortRange parses "25", "1024-65535" or "0-1023" for the given
// protocol.
func ParsePortRange(s, protocol string) (PortRange, error) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	l, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 16)
	if err != nil {
		return PortRange{}, &InvalidPortError{Literal: s, Reason: "not a port number"}
	}
	h, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 16)
	if err != nil {
		return PortRange{}, &InvalidPortError{Literal: s, Reason: "not a port number"}
	}
	if l > h {
		return PortRange{}, &InvalidPortError{Literal: s, Reason: "range is inverted"}
	}
	return PortRange{Protocol: protocol, Lo: uint16(l), Hi: uint16(h)}, nil
}

// MergePorts normalizes a list of ranges into a PortSet.
func MergePorts(ranges []PortRange) PortSet {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]PortRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Protocol != sorted[j].Protocol {
			return sorted[i].Protocol < sorted[j].Protocol
		}
		if sorted[i].Lo != sorted[j].Lo {
			return sorted[i].Lo < sorted[j].Lo
		}
		return sorted[i].Hi < sorted[j].Hi
	})
	out := PortSet{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Protocol == last.Protocol && (r.Lo <= last.Hi || (last.Hi < 65535 && r.Lo == last.Hi+1)) {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// UnionPorts merges any number of port sets.
func UnionPorts(sets ...PortSet) PortSet {
	var all []PortRange
	for _, s := range sets {
		all = append(all, s...)
	}
	return MergePorts(all)
}

// ByProtocol returns the ranges of the set matching the given protocol.
func (s PortSet) ByProtocol(protocol string) PortSet {
	var out PortSet
	for _, r := range s {
		if r.Protocol == protocol {
			out = append(out, r)
		}
	}
	return out
}

// Protocols returns the distinct protocols present, sorted.
func (s PortSet) Protocols() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range s {
		if !seen[r.Protocol] {
			seen[r.Protocol] = true
			out = append(out, r.Protocol)
		}
	}
	sort.Strings(out)
	return out
}

// IsPortSubset reports whether every (protocol, port) of a is covered by b.
func IsPortSubset(a, b PortSet) bool {
	merged := MergePorts(b)
	for _, r := range MergePorts(a) {
		if !portRangeCovered(r, merged) {
			return false
		}
	}
	return true
}

// portRangeCovered reports whether r fits inside a single merged range.
// Merging guarantees a covered range is never split across members.
func portRangeCovered(r PortRange, merged PortSet) bool {
	for _, m := range merged {
		if m.Protocol == r.Protocol && m.Lo <= r.Lo && r.Hi <= m.Hi {
			return true
		}
	}
	return false
}

// PortsOverlap reports whether the two sets share any (protocol, port).
func PortsOverlap(a, b PortSet) bool {
	for _, r := range a {
		for _, m := range b {
			if r.Protocol == m.Protocol && r.Lo <= m.Hi && m.Lo <= r.Hi {
				return true
			}
		}
	}
	return false
}
