package naming

import (
	"fmt"
	"strings"
)

// UndefinedSymbolError reports a reference to a name no definition file
// declares.
type UndefinedSymbolError struct {
	Kind string // "network" or "service"
	Name string
}

func (e *UndefinedSymbolError) Error() string {
	return fmt.Sprintf("undefined %s %q", e.Kind, e.Name)
}

// CircularReferenceError reports a definition that ultimately references
// itself. Cycle holds the names along the loop, in reference order.
type CircularReferenceError struct {
	Kind  string
	Cycle []string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular %s reference: %s", e.Kind, strings.Join(e.Cycle, " -> "))
}

// DuplicateDefinitionError reports the same name defined twice.
type DuplicateDefinitionError struct {
	Kind string
	Name string
	File string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("%s %q redefined in %s", e.Kind, e.Name, e.File)
}
