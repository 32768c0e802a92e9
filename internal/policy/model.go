// Package policy parses the vendor-neutral policy language into an
// ordered model of filter blocks, each a header plus its term list, with
// all symbolic network and service tokens resolved to concrete sets.
package policy

import (
	"strings"
	"time"

	"github.com/aclforge/aclforge/internal/netset"
)

// Actions that end rule evaluation for a matching packet.
var terminatingActions = map[string]bool{
	"accept":              true,
	"deny":                true,
	"reject":              true,
	"reject-with-tcp-rst": true,
}

// The full action vocabulary; next and count do not terminate.
var knownActions = map[string]bool{
	"accept":              true,
	"deny":                true,
	"reject":              true,
	"reject-with-tcp-rst": true,
	"next":                true,
	"count":               true,
}

// Target is one platform declaration from a header's target:: line.
// Options carry the platform-specific arguments verbatim, e.g.
// ["from-zone", "trust", "to-zone", "untrust"] or a direction and an
// address family.
type Target struct {
	Platform string
	Options  []string
}

// Header opens a filter block: the platforms it compiles for and the
// block's comment lines, concatenated in source order.
type Header struct {
	Comments []string
	Targets  []Target
}

// Target returns the declaration for the given platform, or nil.
func (h *Header) Target(platform string) *Target {
	for i := range h.Targets {
		if h.Targets[i].Platform == platform {
			return &h.Targets[i]
		}
	}
	return nil
}

// Platforms lists the declared platform names in source order.
func (h *Header) Platforms() []string {
	out := make([]string, len(h.Targets))
	for i, t := range h.Targets {
		out[i] = t.Platform
	}
	return out
}

// Comment returns the header's comment lines joined by a space.
func (h *Header) Comment() string {
	return strings.Join(h.Comments, " ")
}

// Term is one ordered rule within a filter block.
type Term struct {
	Name     string
	Line     int
	Comments []string
	Owner    string

	// Address predicate. The token slices keep the symbolic names for
	// reporting; the sets are their resolved values.
	SourceTokens        []string
	DestinationTokens   []string
	SourceAddress       netset.AddressSet
	SourceExclude       netset.AddressSet
	DestinationAddress  netset.AddressSet
	DestinationExclude  netset.AddressSet
	SourceExcludeTokens []string
	DestExcludeTokens   []string

	SourcePortTokens []string
	DestPortTokens   []string
	SourcePort       netset.PortSet
	DestinationPort  netset.PortSet

	Protocols []string
	ICMPTypes []string
	Options   []string

	Action  string
	Logging []string
	Counter string

	Expiration time.Time // zero when unset
	Timeout    int

	Platforms       []string
	PlatformExclude []string
	PanApplications []string

	StatelessReply bool

	// Shaded is set by the analyzer when an earlier terminating term
	// fully covers this one; generators skip shaded terms.
	Shaded bool
}

// Terminating reports whether the term's action ends evaluation.
func (t *Term) Terminating() bool {
	return terminatingActions[t.Action]
}

// Comment returns the term's comment lines joined by a space.
func (t *Term) Comment() string {
	return strings.Join(t.Comments, " ")
}

// EffectiveSource is the source predicate with its exclusions subtracted.
func (t *Term) EffectiveSource() netset.AddressSet {
	if len(t.SourceExclude) == 0 {
		return t.SourceAddress
	}
	return netset.Subtract(t.SourceAddress, t.SourceExclude)
}

// EffectiveDestination is the destination predicate with exclusions
// subtracted.
func (t *Term) EffectiveDestination() netset.AddressSet {
	if len(t.DestinationExclude) == 0 {
		return t.DestinationAddress
	}
	return netset.Subtract(t.DestinationAddress, t.DestinationExclude)
}

// HasOption reports whether the term carries the given match option.
func (t *Term) HasOption(name string) bool {
	for _, o := range t.Options {
		if o == name {
			return true
		}
	}
	return false
}

// AppliesToPlatform applies the term's own platform restriction: a
// platform:: list limits the term to those platforms, and
// platform-exclude:: removes platforms from consideration. Terms with
// neither apply everywhere.
func (t *Term) AppliesToPlatform(platform string) bool {
	for _, p := range t.PlatformExclude {
		if p == platform {
			return false
		}
	}
	if len(t.Platforms) == 0 {
		return true
	}
	for _, p := range t.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// FieldValues enumerates the policy fields the term sets, keyed by the
// canonical token name the generator capability contract uses. Values
// are included for fields whose vocabulary backends restrict.
func (t *Term) FieldValues() map[string][]string {
	fields := map[string][]string{
		"action": {t.Action},
	}
	add := func(key string, values []string) {
		if len(values) > 0 {
			fields[key] = values
		}
	}
	add("comment", t.Comments)
	add("source_address", t.SourceTokens)
	add("source_address_exclude", t.SourceExcludeTokens)
	add("destination_address", t.DestinationTokens)
	add("destination_address_exclude", t.DestExcludeTokens)
	add("source_port", t.SourcePortTokens)
	add("destination_port", t.DestPortTokens)
	add("protocol", t.Protocols)
	add("icmp_type", t.ICMPTypes)
	add("option", t.Options)
	add("logging", t.Logging)
	add("platform", t.Platforms)
	add("platform_exclude", t.PlatformExclude)
	add("pan_application", t.PanApplications)
	if t.Owner != "" {
		fields["owner"] = []string{t.Owner}
	}
	if t.Counter != "" {
		fields["counter"] = []string{t.Counter}
	}
	if !t.Expiration.IsZero() {
		fields["expiration"] = nil
	}
	if t.Timeout > 0 {
		fields["timeout"] = nil
	}
	if t.StatelessReply {
		fields["stateless_reply"] = nil
	}
	return fields
}

// Filter pairs one header with its ordered terms.
type Filter struct {
	Header *Header
	Terms  []*Term
}

// NoticeKind classifies non-fatal conditions surfaced during
// compilation.
type NoticeKind string

const (
	NoticeExpired  NoticeKind = "expired"
	NoticeExpiring NoticeKind = "expiring"
	NoticeShaded   NoticeKind = "shaded"
)

// Notice is a structured warning for the driver to log; never an error.
type Notice struct {
	Kind         NoticeKind
	Term         string
	Message      string
	DaysToExpiry int
}

// Policy is the parsed result: ordered filter blocks plus the notices
// produced while building them.
type Policy struct {
	Filename string
	Filters  []Filter
	Notices  []Notice
}

// Platforms returns the union of platform names declared by all headers,
// in first-seen order.
func (p *Policy) Platforms() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range p.Filters {
		for _, name := range f.Header.Platforms() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
