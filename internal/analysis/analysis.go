// Package analysis runs the static passes over a parsed policy: the
// shading check that finds terms an earlier terminating term makes
// unreachable, and the optimization pass that rewrites address and port
// sets into their minimal-cover form.
package analysis

import (
	"fmt"

	"github.com/aclforge/aclforge/internal/netset"
	"github.com/aclforge/aclforge/internal/policy"
)

// ShadingError is the fatal form of a shading finding, raised only when
// shade checking is requested.
type ShadingError struct {
	Filter string
	Shaded string
	By     string
}

func (e *ShadingError) Error() string {
	return fmt.Sprintf("term %s is never reached: term %s already matches everything it would (filter %s)",
		e.Shaded, e.By, e.Filter)
}

// Options selects which passes run and how findings surface.
type Options struct {
	// ShadeCheck makes a shaded term a fatal error instead of a notice.
	ShadeCheck bool
	// Optimize collapses every term's address and port sets.
	Optimize bool
}

// Analyze walks every filter block of the policy. Shaded terms either
// abort with a ShadingError or are marked and reported as notices, and
// optimization rewrites sets in place. Appended notices land on the
// policy itself.
func Analyze(pol *policy.Policy, opts Options) error {
	for i := range pol.Filters {
		f := &pol.Filters[i]
		if err := checkShading(pol, f, opts.ShadeCheck); err != nil {
			return err
		}
		if opts.Optimize {
			optimizeFilter(f)
		}
	}
	return nil
}

// checkShading compares every term against each earlier terminating
// term. A term is shaded when a single earlier terminator covers it
// across every match dimension simultaneously.
func checkShading(pol *policy.Policy, f *policy.Filter, fatal bool) error {
	for i, t := range f.Terms {
		for _, earlier := range f.Terms[:i] {
			if !earlier.Terminating() || earlier.Shaded {
				continue
			}
			if !coversTerm(earlier, t) {
				continue
			}
			if fatal {
				return &ShadingError{
					Filter: f.Header.Comment(),
					Shaded: t.Name,
					By:     earlier.Name,
				}
			}
			t.Shaded = true
			pol.Notices = append(pol.Notices, policy.Notice{
				Kind:    policy.NoticeShaded,
				Term:    t.Name,
				Message: fmt.Sprintf("term %s is shaded by earlier term %s and will not be rendered", t.Name, earlier.Name),
			})
			break
		}
	}
	return nil
}

// coversTerm reports whether s's match predicate is a superset of t's on
// every dimension. A dimension s leaves unspecified matches everything.
func coversTerm(s, t *policy.Term) bool {
	if !addrCovers(s.EffectiveSource(), t.EffectiveSource()) {
		return false
	}
	if !addrCovers(s.EffectiveDestination(), t.EffectiveDestination()) {
		return false
	}
	if !portCovers(s.SourcePort, t.SourcePort) {
		return false
	}
	if !portCovers(s.DestinationPort, t.DestinationPort) {
		return false
	}
	if !listCovers(s.Protocols, t.Protocols) {
		return false
	}
	if !listCovers(s.ICMPTypes, t.ICMPTypes) {
		return false
	}
	return true
}

func addrCovers(s, t netset.AddressSet) bool {
	if len(s) == 0 {
		return true
	}
	if len(t) == 0 {
		// t matches any address, s is narrower.
		return false
	}
	return netset.IsSubset(t, s)
}

func portCovers(s, t netset.PortSet) bool {
	if len(s) == 0 {
		return true
	}
	if len(t) == 0 {
		return false
	}
	return netset.IsPortSubset(t, s)
}

func listCovers(s, t []string) bool {
	if len(s) == 0 {
		return true
	}
	if len(t) == 0 {
		return false
	}
	super := make(map[string]bool, len(s))
	for _, v := range s {
		super[v] = true
	}
	for _, v := range t {
		if !super[v] {
			return false
		}
	}
	return true
}

// optimizeFilter rewrites each term's sets into minimal-cover form. The
// matched traffic is unchanged; only the representation shrinks.
func optimizeFilter(f *policy.Filter) {
	for _, t := range f.Terms {
		t.SourceAddress = netset.Collapse(t.SourceAddress)
		t.SourceExclude = netset.Collapse(t.SourceExclude)
		t.DestinationAddress = netset.Collapse(t.DestinationAddress)
		t.DestinationExclude = netset.Collapse(t.DestinationExclude)
		t.SourcePort = netset.MergePorts(t.SourcePort)
		t.DestinationPort = netset.MergePorts(t.DestinationPort)
	}
}
