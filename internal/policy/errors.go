package policy

import "fmt"

// PolicyParseError reports malformed policy syntax with its source
// location.
type PolicyParseError struct {
	File string
	Line int
	Msg  string
	Err  error
}

func (e *PolicyParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func (e *PolicyParseError) Unwrap() error { return e.Err }
