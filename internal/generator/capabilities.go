package generator

import (
	"fmt"

	"github.com/aclforge/aclforge/internal/policy"
)

// Capabilities declares what a backend understands: Tokens are the term
// fields it can express, SubTokens restrict the value vocabulary of
// individual fields (actions, options, ICMP types).
type Capabilities struct {
	Tokens    map[string]bool
	SubTokens map[string]map[string]bool
}

// Set is a convenience constructor for capability sets.
func Set(values ...string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// UnsupportedFilterError reports a term using a field or value the
// backend cannot express.
type UnsupportedFilterError struct {
	Platform string
	Term     string
	Field    string
	Value    string
}

func (e *UnsupportedFilterError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: term %s: unsupported value %q for field %s", e.Platform, e.Term, e.Value, e.Field)
	}
	return fmt.Sprintf("%s: term %s: unsupported field %s", e.Platform, e.Term, e.Field)
}

// NameTooLongError reports a platform identifier, derived from header
// target parameters, exceeding the backend's structural limit.
type NameTooLongError struct {
	Platform   string
	Identifier string // which identifier, e.g. "Source zone"
	Name       string
	Limit      int
}

func (e *NameTooLongError) Error() string {
	return fmt.Sprintf("%s must be %d characters max: %q is %d", e.Identifier, e.Limit, e.Name, len(e.Name))
}

// ValidateTerm checks every field the term sets against the backend's
// capability declaration.
func ValidateTerm(platform string, t *policy.Term, caps Capabilities) error {
	for field, values := range t.FieldValues() {
		if !caps.Tokens[field] {
			return &UnsupportedFilterError{Platform: platform, Term: t.Name, Field: field}
		}
		allowed, restricted := caps.SubTokens[field]
		if !restricted {
			continue
		}
		for _, v := range values {
			if !allowed[v] {
				return &UnsupportedFilterError{Platform: platform, Term: t.Name, Field: field, Value: v}
			}
		}
	}
	return nil
}

// ApplicableTerms filters a block's terms down to those the backend
// should render for its platform: shaded terms and terms whose own
// platform restriction excludes this backend are silently omitted,
// everything else must validate.
func ApplicableTerms(platform string, f *policy.Filter, caps Capabilities) ([]*policy.Term, error) {
	var out []*policy.Term
	for _, t := range f.Terms {
		if t.Shaded || !t.AppliesToPlatform(platform) {
			continue
		}
		if err := ValidateTerm(platform, t, caps); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// StatefulSkip reports whether an inherently stateful backend should
// silently omit the term: stateless reply terms and connection-state
// shortcut options only mean something to stateless packet filters.
func StatefulSkip(t *policy.Term) bool {
	return t.StatelessReply || t.HasOption("established") || t.HasOption("tcp-established")
}
