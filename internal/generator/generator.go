// Package generator defines the capability contract every vendor
// backend implements: declared supported tokens and sub-token values,
// validation of parsed terms against them, a registry dispatching
// platform names to backend constructors, and shared rendering helpers.
package generator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aclforge/aclforge/internal/policy"
)

// Generator renders the filter blocks of one policy that target its
// platform.
type Generator interface {
	Platform() string
	// Suffix is appended to the policy file's base name for output.
	Suffix() string
	// Render produces the platform-native configuration. Output is
	// deterministic: identical input yields byte-identical text.
	Render() (string, error)
}

// Constructor builds a backend generator for a parsed policy,
// validating every applicable term against the backend's capabilities.
type Constructor func(pol *policy.Policy) (Generator, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes a backend available under its platform name. Backends
// call this from an init function; registering the same name twice
// panics.
func Register(platform string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[platform]; dup {
		panic(fmt.Sprintf("generator: platform %q registered twice", platform))
	}
	registry[platform] = c
}

// New constructs the registered backend for platform.
func New(platform string, pol *policy.Policy) (Generator, error) {
	registryMu.RLock()
	c, ok := registry[platform]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no generator registered for platform %q", platform)
	}
	return c(pol)
}

// Registered reports whether a backend exists for platform.
func Registered(platform string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[platform]
	return ok
}

// Platforms lists registered platform names, sorted.
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
