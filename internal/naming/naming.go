// Package naming holds the symbol tables mapping policy tokens to network
// and service definitions, and resolves them into concrete address and
// port sets. Definitions may reference each other; resolution is a
// memoized depth-first expansion with cycle detection.
package naming

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aclforge/aclforge/internal/netset"
)

// NetworkDef is one named network: an ordered member list of CIDR
// literals or references, with an optional exclusion list of the same
// shape. Exclusions are subtracted after all inclusions are flattened.
type NetworkDef struct {
	Name    string
	Members []string
	Except  []string
	Comment string
}

// ServiceDef is one named service: members are "port/proto",
// "lo-hi/proto" literals or references to other services.
type ServiceDef struct {
	Name    string
	Members []string
	Comment string
}

// Definitions is the resolver: a snapshot of every known network and
// service definition. Resolution results are memoized per instance; a
// Definitions value may be shared across concurrent compilations once
// built, the cache is guarded so each name resolves at most once.
type Definitions struct {
	mu       sync.Mutex
	networks map[string]*NetworkDef
	services map[string]*ServiceDef
	netCache map[string]netset.AddressSet
	svcCache map[string]netset.PortSet
}

// NewDefinitions returns an empty symbol table.
func NewDefinitions() *Definitions {
	return &Definitions{
		networks: make(map[string]*NetworkDef),
		services: make(map[string]*ServiceDef),
		netCache: make(map[string]netset.AddressSet),
		svcCache: make(map[string]netset.PortSet),
	}
}

// AddNetwork registers a network definition. The file argument is only
// used for error reporting.
func (d *Definitions) AddNetwork(def NetworkDef, file string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.networks[def.Name]; ok {
		return &DuplicateDefinitionError{Kind: "network", Name: def.Name, File: file}
	}
	copied := def
	d.networks[def.Name] = &copied
	return nil
}

// AddService registers a service definition.
func (d *Definitions) AddService(def ServiceDef, file string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.services[def.Name]; ok {
		return &DuplicateDefinitionError{Kind: "service", Name: def.Name, File: file}
	}
	copied := def
	d.services[def.Name] = &copied
	return nil
}

// NetworkNames returns all defined network names, sorted.
func (d *Definitions) NetworkNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.networks))
	for name := range d.networks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ServiceNames returns all defined service names, sorted.
func (d *Definitions) ServiceNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.services))
	for name := range d.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveNetwork expands the named network into a flat AddressSet:
// references expanded depth-first, each nested definition's own
// exclusions applied before the outer exclusion is subtracted.
func (d *Definitions) ResolveNetwork(name string) (netset.AddressSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolveNetwork(name, map[string]bool{}, nil)
}

func (d *Definitions) resolveNetwork(name string, visiting map[string]bool, path []string) (netset.AddressSet, error) {
	if cached, ok := d.netCache[name]; ok {
		return cached, nil
	}
	if visiting[name] {
		return nil, &CircularReferenceError{Kind: "network", Cycle: append(path, name)}
	}
	def, ok := d.networks[name]
	if !ok {
		return nil, &UndefinedSymbolError{Kind: "network", Name: name}
	}

	visiting[name] = true
	path = append(path, name)

	expand := func(members []string) (netset.AddressSet, error) {
		var sets []netset.AddressSet
		for _, m := range members {
			if strings.ContainsAny(m, "./:") {
				p, err := netset.ParsePrefix(m)
				if err != nil {
					return nil, fmt.Errorf("network %q: %w", name, err)
				}
				sets = append(sets, netset.AddressSet{p})
				continue
			}
			nested, err := d.resolveNetwork(m, visiting, path)
			if err != nil {
				return nil, err
			}
			sets = append(sets, nested)
		}
		return netset.Union(sets...), nil
	}

	included, err := expand(def.Members)
	if err != nil {
		return nil, err
	}
	result := included
	if len(def.Except) > 0 {
		excluded, err := expand(def.Except)
		if err != nil {
			return nil, err
		}
		result = netset.Subtract(included, excluded)
	}

	delete(visiting, name)
	d.netCache[name] = result
	return result, nil
}

// ResolveService expands the named service into a PortSet across all of
// its protocols.
func (d *Definitions) ResolveService(name string) (netset.PortSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolveService(name, map[string]bool{}, nil)
}

// ResolveServiceByProto resolves the service and keeps only the ranges
// of the given protocol.
func (d *Definitions) ResolveServiceByProto(name, protocol string) (netset.PortSet, error) {
	set, err := d.ResolveService(name)
	if err != nil {
		return nil, err
	}
	return set.ByProtocol(protocol), nil
}

func (d *Definitions) resolveService(name string, visiting map[string]bool, path []string) (netset.PortSet, error) {
	if cached, ok := d.svcCache[name]; ok {
		return cached, nil
	}
	if visiting[name] {
		return nil, &CircularReferenceError{Kind: "service", Cycle: append(path, name)}
	}
	def, ok := d.services[name]
	if !ok {
		return nil, &UndefinedSymbolError{Kind: "service", Name: name}
	}

	visiting[name] = true
	path = append(path, name)

	var sets []netset.PortSet
	for _, m := range def.Members {
		if ports, proto, found := strings.Cut(m, "/"); found {
			r, err := netset.ParsePortRange(ports, proto)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", name, err)
			}
			sets = append(sets, netset.PortSet{r})
			continue
		}
		nested, err := d.resolveService(m, visiting, path)
		if err != nil {
			return nil, err
		}
		sets = append(sets, nested)
	}

	delete(visiting, name)
	result := netset.UnionPorts(sets...)
	d.svcCache[name] = result
	return result, nil
}
