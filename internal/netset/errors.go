package netset

import "fmt"

// InvalidAddressError reports a literal that does not parse as an IP
// address or CIDR prefix.
type InvalidAddressError struct {
	Literal string
	Reason  string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Literal, e.Reason)
}

// InvalidPortError reports a literal that does not parse as a port or
// port range.
type InvalidPortError struct {
	Literal string
	Reason  string
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("invalid port %q: %s", e.Literal, e.Reason)
}
