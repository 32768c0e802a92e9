// Package paloalto renders policy filters into PAN-OS security rulebase
// XML. It is the reference implementation of the generator capability
// contract: a stateful platform with a restricted action vocabulary,
// application-based ICMP matching and a 31-character zone name limit.
package paloalto

import (
	"fmt"
	"strings"

	"github.com/aclforge/aclforge/internal/generator"
	"github.com/aclforge/aclforge/internal/netset"
	"github.com/aclforge/aclforge/internal/policy"
)

const (
	platformName = "paloalto"
	suffix       = ".xml"
	maxZoneLen   = 31
)

func init() {
	generator.Register(platformName, New)
}

var actionMap = map[string]string{
	"accept":              "allow",
	"deny":                "deny",
	"reject":              "reset-client",
	"reject-with-tcp-rst": "reset-client",
}

var icmpTypes = []string{
	"alternate-address",
	"certification-path-advertisement",
	"certification-path-solicitation",
	"conversion-error",
	"destination-unreachable",
	"echo-reply",
	"echo-request",
	"home-agent-address-discovery-reply",
	"home-agent-address-discovery-request",
	"icmp-node-information-query",
	"icmp-node-information-response",
	"information-reply",
	"information-request",
	"inverse-neighbor-discovery-advertisement",
	"inverse-neighbor-discovery-solicitation",
	"mask-reply",
	"mask-request",
	"mobile-prefix-advertisement",
	"mobile-prefix-solicitation",
	"mobile-redirect",
	"multicast-listener-done",
	"multicast-listener-query",
	"multicast-listener-report",
	"multicast-router-advertisement",
	"multicast-router-solicitation",
	"multicast-router-termination",
	"neighbor-advertisement",
	"neighbor-solicit",
	"packet-too-big",
	"parameter-problem",
	"redirect",
	"redirect-message",
	"router-advertisement",
	"router-renumbering",
	"router-solicit",
	"router-solicitation",
	"source-quench",
	"time-exceeded",
	"timestamp-reply",
	"timestamp-request",
	"unreachable",
	"version-2-multicast-listener-report",
}

// capabilities declares what PAN-OS rules can express.
func capabilities() generator.Capabilities {
	return generator.Capabilities{
		Tokens: generator.Set(
			"action",
			"comment",
			"destination_address",
			"destination_address_exclude",
			"destination_port",
			"expiration",
			"icmp_type",
			"logging",
			"name",
			"option",
			"owner",
			"pan_application",
			"platform",
			"platform_exclude",
			"protocol",
			"source_address",
			"source_address_exclude",
			"source_port",
			"stateless_reply",
			"timeout",
			"translated",
		),
		SubTokens: map[string]map[string]bool{
			"action":    generator.Set("accept", "deny", "reject", "reject-with-tcp-rst"),
			"option":    generator.Set("established", "tcp-established"),
			"icmp_type": generator.Set(icmpTypes...),
		},
	}
}

// PaloAlto renders the paloalto filter blocks of one policy.
type PaloAlto struct {
	pol    *policy.Policy
	config *element
}

// New validates every applicable term and builds the full XML document
// up front; Render only serializes it.
func New(pol *policy.Policy) (generator.Generator, error) {
	g := &PaloAlto{pol: pol}
	if err := g.translate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *PaloAlto) Platform() string { return platformName }
func (g *PaloAlto) Suffix() string   { return suffix }

func (g *PaloAlto) Render() (string, error) {
	return g.config.String(), nil
}

// filterSpec is one header's paloalto target, decoded.
type filterSpec struct {
	fromZone string
	toZone   string
	family   string
}

func decodeTarget(t *policy.Target) (filterSpec, error) {
	spec := filterSpec{family: "mixed"}
	opts := t.Options
	families := 0
	for i := 0; i < len(opts); i++ {
		switch opts[i] {
		case "from-zone", "to-zone":
			if i+1 >= len(opts) {
				return spec, fmt.Errorf("paloalto: %s requires a zone name", opts[i])
			}
			if opts[i] == "from-zone" {
				spec.fromZone = opts[i+1]
			} else {
				spec.toZone = opts[i+1]
			}
			i++
		case "inet", "inet6", "mixed":
			spec.family = opts[i]
			families++
		default:
			return spec, fmt.Errorf("paloalto: unknown filter option %q", opts[i])
		}
	}
	if families > 1 {
		return spec, fmt.Errorf("paloalto: only one address family may be specified per filter")
	}
	if spec.fromZone == "" || spec.toZone == "" {
		return spec, fmt.Errorf("paloalto: filter requires both from-zone and to-zone")
	}
	if len(spec.fromZone) > maxZoneLen {
		return spec, &generator.NameTooLongError{
			Platform: platformName, Identifier: "Source zone",
			Name: spec.fromZone, Limit: maxZoneLen,
		}
	}
	if len(spec.toZone) > maxZoneLen {
		return spec, &generator.NameTooLongError{
			Platform: platformName, Identifier: "Destination zone",
			Name: spec.toZone, Limit: maxZoneLen,
		}
	}
	return spec, nil
}

func (g *PaloAlto) translate() error {
	caps := capabilities()

	config := newElement("config").attr("version", "8.1.0").attr("urldb", "paloaltonetworks")
	vsys := config.add("devices").
		add("entry").attr("name", "localhost.localdomain").
		add("vsys").
		add("entry").attr("name", "vsys1")
	rules := vsys.add("rulebase").add("security").add("rules")

	tags := generator.NewTagPool()
	services := newElement("service")
	seen := false

	for i := range g.pol.Filters {
		f := &g.pol.Filters[i]
		target := f.Header.Target(platformName)
		if target == nil {
			continue
		}
		seen = true
		spec, err := decodeTarget(target)
		if err != nil {
			return err
		}
		terms, err := generator.ApplicableTerms(platformName, f, caps)
		if err != nil {
			return err
		}
		tag := tags.Tag([]string{spec.fromZone, spec.toZone}, f.Header.Comment())
		for _, t := range terms {
			if generator.StatefulSkip(t) {
				continue
			}
			if err := g.renderTerm(rules, services, spec, t, tag); err != nil {
				return err
			}
		}
	}
	if !seen {
		return fmt.Errorf("paloalto: policy declares no paloalto filter")
	}

	if len(tags.Tags()) > 0 {
		tagSection := vsys.add("tag")
		for _, t := range tags.Tags() {
			entry := tagSection.add("entry").attr("name", t.Name)
			entry.addText("comments", t.Comment)
		}
	}
	if len(services.children) > 0 {
		vsys.children = append(vsys.children, services)
	}

	g.config = config
	return nil
}

// renderTerm appends one security rule entry, creating service objects
// for its ports as a side effect.
func (g *PaloAlto) renderTerm(rules, services *element, spec filterSpec, t *policy.Term, tag *generator.Tag) error {
	apps, err := applications(t)
	if err != nil {
		return err
	}

	src, ok := addressMembers(t.EffectiveSource(), spec.family)
	if !ok {
		return nil
	}
	dst, ok := addressMembers(t.EffectiveDestination(), spec.family)
	if !ok {
		return nil
	}

	entry := rules.add("entry").attr("name", t.Name)
	entry.add("to").members(spec.toZone)
	entry.add("from").members(spec.fromZone)
	entry.add("source").members(src...)
	entry.add("destination").members(dst...)
	entry.add("source-user").members("any")
	entry.add("category").members("any")
	entry.add("application").members(apps...)
	entry.add("service").members(g.serviceMembers(services, t)...)
	entry.add("hip-profiles").members("any")
	entry.addText("action", actionMap[t.Action])

	renderLogging(entry, t.Logging)

	if c := t.Comment(); c != "" {
		entry.addText("description", c)
	}
	if tag != nil {
		entry.add("tag").members(tag.Name)
	}
	return nil
}

// applications maps the term's non-transport protocols and declared
// applications onto PAN-OS application members.
func applications(t *policy.Term) ([]string, error) {
	var apps []string
	apps = append(apps, t.PanApplications...)

	hasICMP := false
	for _, proto := range t.Protocols {
		switch proto {
		case "tcp", "udp":
			// Transport protocols express through services.
		case "icmp":
			hasICMP = true
			if len(t.ICMPTypes) == 0 {
				apps = append(apps, "icmp")
			}
			for _, it := range t.ICMPTypes {
				apps = append(apps, "icmp-"+it)
			}
		case "icmpv6":
			hasICMP = true
			apps = append(apps, "ipv6-icmp")
		default:
			// Other IP protocols are first-class applications on PAN-OS.
			apps = append(apps, proto)
		}
	}
	if len(t.ICMPTypes) > 0 && !hasICMP {
		return nil, &generator.UnsupportedFilterError{
			Platform: platformName, Term: t.Name, Field: "icmp_type",
			Value: "requires an icmp protocol",
		}
	}
	if len(apps) == 0 {
		apps = []string{"any"}
	}
	return apps, nil
}

// serviceMembers returns the rule's service member list, appending
// generated service objects for port-bearing tcp/udp terms.
func (g *PaloAlto) serviceMembers(services *element, t *policy.Term) []string {
	var transport []string
	for _, proto := range t.Protocols {
		if proto == "tcp" || proto == "udp" {
			transport = append(transport, proto)
		}
	}
	hasPorts := len(t.DestinationPort)+len(t.SourcePort) > 0

	switch {
	case len(transport) > 0 && hasPorts:
		var members []string
		for _, proto := range []string{"tcp", "udp"} {
			if !contains(transport, proto) {
				continue
			}
			dst := t.DestinationPort.ByProtocol(proto)
			src := t.SourcePort.ByProtocol(proto)
			if len(dst) == 0 && len(src) == 0 {
				// A service object without a port is rejected at
				// config load, so a protocol whose port token
				// resolved to nothing gets no service entry.
				continue
			}
			name := fmt.Sprintf("service-%s-%s", t.Name, proto)
			addService(services, name, proto, dst, src)
			members = append(members, name)
		}
		if len(members) == 0 {
			return []string{"any"}
		}
		return members
	case len(transport) > 0:
		return []string{"any"}
	case len(t.Protocols) == 0 && len(t.PanApplications) == 0:
		return []string{"any"}
	default:
		return []string{"application-default"}
	}
}

func addService(services *element, name, proto string, dst, src netset.PortSet) {
	entry := services.add("entry").attr("name", name)
	protoEl := entry.add("protocol").add(proto)
	if len(dst) > 0 {
		protoEl.addText("port", portText(dst))
	}
	if len(src) > 0 {
		protoEl.addText("source-port", portText(src))
	}
}

func portText(set netset.PortSet) string {
	var parts []string
	for _, r := range set {
		if r.Lo == r.Hi {
			parts = append(parts, fmt.Sprintf("%d", r.Lo))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Lo, r.Hi))
		}
	}
	return strings.Join(parts, ",")
}

// addressMembers renders the set's prefixes for the filter's address
// family. An unset dimension is "any"; a set whose every prefix is of
// the other family leaves the term unrenderable for this filter, so the
// second return is false and the caller drops the rule.
func addressMembers(set netset.AddressSet, family string) ([]string, bool) {
	if len(set) == 0 {
		return []string{"any"}, true
	}
	var out []string
	for _, p := range set {
		switch family {
		case "inet":
			if !p.Addr().Is4() {
				continue
			}
		case "inet6":
			if p.Addr().Is4() {
				continue
			}
		}
		out = append(out, p.String())
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// renderLogging maps the neutral logging modes onto PAN-OS session log
// flags. The platform logs at session end by default, so plain logging
// only pins log-end.
func renderLogging(entry *element, modes []string) {
	if len(modes) == 0 {
		return
	}
	for _, m := range modes {
		switch m {
		case "disable":
			entry.addText("log-start", "no")
			entry.addText("log-end", "no")
			return
		case "log-both":
			entry.addText("log-start", "yes")
			entry.addText("log-end", "yes")
			return
		}
	}
	entry.addText("log-end", "yes")
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
