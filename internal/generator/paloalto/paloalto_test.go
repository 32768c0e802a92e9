package paloalto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclforge/aclforge/internal/generator"
	"github.com/aclforge/aclforge/internal/naming"
	"github.com/aclforge/aclforge/internal/netset"
	"github.com/aclforge/aclforge/internal/policy"
)

const testDefs = `
network "FOOBAR" {
  members = ["10.0.0.0/8", "2001:4860:8000::/33"]
}
network "SOME_HOST" {
  members = ["10.1.1.1/32"]
}
service "SMTP" {
  members = ["25/tcp"]
}
`

const goodHeader = `
header {
  comment:: "this is a test acl"
  target:: paloalto from-zone trust to-zone untrust
}
`

func parse(t *testing.T, src string) *policy.Policy {
	t.Helper()
	defs := naming.NewDefinitions()
	require.NoError(t, defs.ParseDefinitions("defs.def", []byte(testDefs)))
	pol, err := policy.Parse(src, policy.Options{
		Definitions: defs,
		Filename:    "test.pol",
		Now:         time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return pol
}

func build(t *testing.T, src string) *PaloAlto {
	t.Helper()
	g, err := New(parse(t, src))
	require.NoError(t, err)
	return g.(*PaloAlto)
}

func findRule(g *PaloAlto, name string) *element {
	return g.config.find(
		"devices", "entry[name=localhost.localdomain]",
		"vsys", "entry[name=vsys1]",
		"rulebase", "security", "rules", "entry[name="+name+"]")
}

func findVsys(g *PaloAlto, path ...string) *element {
	full := append([]string{
		"devices", "entry[name=localhost.localdomain]",
		"vsys", "entry[name=vsys1]"}, path...)
	return g.config.find(full...)
}

func TestTermAndFilterName(t *testing.T) {
	g := build(t, goodHeader+`
term good-term-1 {
  destination-address:: FOOBAR
  destination-port:: SMTP
  protocol:: tcp
  action:: accept
}
`)
	rule := findRule(g, "good-term-1")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"untrust"}, rule.find("to").memberTexts())
	assert.Equal(t, []string{"trust"}, rule.find("from").memberTexts())
	assert.Equal(t, []string{"service-good-term-1-tcp"}, rule.find("service").memberTexts())

	svc := findVsys(g, "service", "entry[name=service-good-term-1-tcp]")
	require.NotNil(t, svc)
	assert.Equal(t, "25", svc.find("protocol", "tcp", "port").text)
}

func TestServiceSkipsPortlessProtocol(t *testing.T) {
	g := build(t, goodHeader+`
term mail {
  destination-address:: FOOBAR
  destination-port:: SMTP
  protocol:: tcp udp
  action:: accept
}
`)
	rule := findRule(g, "mail")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"service-mail-tcp"}, rule.find("service").memberTexts())

	svc := findVsys(g, "service", "entry[name=service-mail-tcp]")
	require.NotNil(t, svc)
	assert.Equal(t, "25", svc.find("protocol", "tcp", "port").text)
	assert.Nil(t, findVsys(g, "service", "entry[name=service-mail-udp]"))
}

func TestDefaultDeny(t *testing.T) {
	g := build(t, goodHeader+`
term default-term-1 {
  action:: deny
}
`)
	rule := findRule(g, "default-term-1")
	require.NotNil(t, rule)
	assert.Equal(t, "deny", rule.find("action").text)
	assert.Equal(t, []string{"any"}, rule.find("source").memberTexts())
	assert.Equal(t, []string{"any"}, rule.find("service").memberTexts())
}

func TestIcmpTypes(t *testing.T) {
	g := build(t, goodHeader+`
term test-icmp {
  protocol:: icmp
  icmp-type:: echo-request echo-reply
  action:: accept
}
`)
	rule := findRule(g, "test-icmp")
	require.NotNil(t, rule)
	assert.ElementsMatch(t,
		[]string{"icmp-echo-request", "icmp-echo-reply"},
		rule.find("application").memberTexts())
}

func TestIcmpProtocolOnly(t *testing.T) {
	g := build(t, goodHeader+`
term test-icmp-only {
  protocol:: icmp
  action:: accept
}
`)
	rule := findRule(g, "test-icmp-only")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"icmp"}, rule.find("application").memberTexts())
	assert.Equal(t, []string{"application-default"}, rule.find("service").memberTexts())
}

func TestIcmpTypeWithoutIcmpProtocol(t *testing.T) {
	_, err := New(parse(t, goodHeader+`
term test-icmp-type {
  icmp-type:: echo-request echo-reply
  action:: accept
}
`))
	var unsup *generator.UnsupportedFilterError
	require.ErrorAs(t, err, &unsup)
	assert.Equal(t, "icmp_type", unsup.Field)
}

func TestGreProtocol(t *testing.T) {
	g := build(t, goodHeader+`
term test-gre-protocol {
  destination-address:: FOOBAR
  protocol:: gre
  action:: accept
}
`)
	rule := findRule(g, "test-gre-protocol")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"gre"}, rule.find("application").memberTexts())
}

func TestPanApplication(t *testing.T) {
	g := build(t, goodHeader+`
term only-pan-app {
  pan-application:: ssl
  action:: accept
}
`)
	rule := findRule(g, "only-pan-app")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"ssl"}, rule.find("application").memberTexts())
	assert.Equal(t, []string{"application-default"}, rule.find("service").memberTexts())
}

func TestUnsupportedActions(t *testing.T) {
	for _, action := range []string{"count", "next"} {
		_, err := New(parse(t, goodHeader+`
term test-action {
  protocol:: tcp
  action:: `+action+`
}
`))
		var unsup *generator.UnsupportedFilterError
		require.ErrorAs(t, err, &unsup, "action %s", action)
		assert.Equal(t, action, unsup.Value)
	}
}

func TestActionMapping(t *testing.T) {
	cases := map[string]string{
		"accept":              "allow",
		"deny":                "deny",
		"reject":              "reset-client",
		"reject-with-tcp-rst": "reset-client",
	}
	for action, want := range cases {
		g := build(t, goodHeader+`
term test-action {
  protocol:: tcp
  action:: `+action+`
}
`)
		rule := findRule(g, "test-action")
		require.NotNil(t, rule, action)
		assert.Equal(t, want, rule.find("action").text, action)
	}
}

func TestUnsupportedOption(t *testing.T) {
	_, err := New(parse(t, goodHeader+`
term unsupported-option-term {
  destination-address:: SOME_HOST
  protocol:: udp
  option:: inactive
  action:: accept
}
`))
	var unsup *generator.UnsupportedFilterError
	require.ErrorAs(t, err, &unsup)
	assert.Equal(t, "option", unsup.Field)
	assert.Equal(t, "inactive", unsup.Value)
}

func TestSkipEstablished(t *testing.T) {
	for _, option := range []string{"established", "tcp-established"} {
		g := build(t, goodHeader+`
term established-term {
  destination-address:: SOME_HOST
  protocol:: tcp
  option:: `+option+`
  action:: accept
}
`)
		assert.Nil(t, findRule(g, "established-term"), option)
	}
}

func TestSkipStatelessReply(t *testing.T) {
	pol := parse(t, goodHeader+`
term stateless-reply-term {
  destination-address:: SOME_HOST
  protocol:: tcp
  action:: accept
}
`)
	for _, term := range pol.Filters[0].Terms {
		term.StatelessReply = true
	}
	g, err := New(pol)
	require.NoError(t, err)
	assert.Nil(t, findRule(g.(*PaloAlto), "stateless-reply-term"))
}

func TestLogging(t *testing.T) {
	g := build(t, goodHeader+`
term test-log-both {
  protocol:: tcp
  logging:: log-both
  action:: accept
}
term test-disabled-log {
  protocol:: tcp
  logging:: disable
  action:: accept
}
term test-plain-log {
  protocol:: udp
  logging:: syslog
  action:: accept
}
term test-no-log {
  protocol:: udp
  action:: accept
}
`)
	both := findRule(g, "test-log-both")
	require.NotNil(t, both)
	assert.Equal(t, "yes", both.find("log-start").text)
	assert.Equal(t, "yes", both.find("log-end").text)

	disabled := findRule(g, "test-disabled-log")
	require.NotNil(t, disabled)
	assert.Equal(t, "no", disabled.find("log-start").text)
	assert.Equal(t, "no", disabled.find("log-end").text)

	plain := findRule(g, "test-plain-log")
	require.NotNil(t, plain)
	assert.Nil(t, plain.find("log-start"))
	assert.Equal(t, "yes", plain.find("log-end").text)

	none := findRule(g, "test-no-log")
	require.NotNil(t, none)
	assert.Nil(t, none.find("log-start"))
	assert.Nil(t, none.find("log-end"))
}

func TestHeaderComments(t *testing.T) {
	g := build(t, `
header {
  comment:: "comment 1"
  comment:: "comment 2"
  target:: paloalto from-zone trust to-zone untrust
}
term policy-1 {
  pan-application:: ssh
  action:: accept
}
term policy-2 {
  pan-application:: web-browsing
  action:: accept
}
header {
  comment:: "comment 3"
  target:: paloalto from-zone trust to-zone dmz
}
term policy-3 {
  pan-application:: web-browsing
  action:: accept
}
header {
  target:: paloalto from-zone trust to-zone dmz-2
}
term policy-4 {
  pan-application:: web-browsing
  action:: accept
}
`)
	tag := findVsys(g, "tag", "entry[name=trust_untrust_policy-comment-1]")
	require.NotNil(t, tag)
	assert.Equal(t, "comment 1 comment 2", tag.find("comments").text)

	rule := findRule(g, "policy-2")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"trust_untrust_policy-comment-1"}, rule.find("tag").memberTexts())

	tag2 := findVsys(g, "tag", "entry[name=trust_dmz_policy-comment-2]")
	require.NotNil(t, tag2)
	assert.Equal(t, "comment 3", tag2.find("comments").text)

	rule3 := findRule(g, "policy-3")
	require.NotNil(t, rule3)
	assert.Equal(t, []string{"trust_dmz_policy-comment-2"}, rule3.find("tag").memberTexts())

	// A commentless header produces no tag on its rules.
	rule4 := findRule(g, "policy-4")
	require.NotNil(t, rule4)
	assert.Nil(t, rule4.find("tag"))
}

func TestZoneLength(t *testing.T) {
	max := strings.Repeat("Z", 31)
	tooLong := strings.Repeat("Z", 32)
	policyBody := `
term policy {
  pan-application:: web-browsing
  action:: accept
}
`
	header := func(from, to string) string {
		return "header {\n  target:: paloalto from-zone " + from + " to-zone " + to + "\n}\n"
	}

	g := build(t, header(max, "dmz")+policyBody)
	rule := findRule(g, "policy")
	require.NotNil(t, rule)
	assert.Equal(t, []string{max}, rule.find("from").memberTexts())

	_, err := New(parse(t, header(tooLong, "dmz")+policyBody))
	var tooLongErr *generator.NameTooLongError
	require.ErrorAs(t, err, &tooLongErr)
	assert.Equal(t, "Source zone", tooLongErr.Identifier)
	assert.True(t, strings.HasPrefix(err.Error(), "Source zone must be 31 characters max"))

	g = build(t, header("dmz", max)+policyBody)
	rule = findRule(g, "policy")
	require.NotNil(t, rule)
	assert.Equal(t, []string{max}, rule.find("to").memberTexts())

	_, err = New(parse(t, header("dmz", tooLong)+policyBody))
	require.ErrorAs(t, err, &tooLongErr)
	assert.Equal(t, "Destination zone", tooLongErr.Identifier)
}

func TestMixedFamilyFilterError(t *testing.T) {
	_, err := New(parse(t, `
header {
  target:: paloalto from-zone trust to-zone untrust inet6 mixed
}
term policy {
  action:: accept
}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address family")
}

func TestAddressFamilyFiltering(t *testing.T) {
	src := `
header {
  target:: paloalto from-zone trust to-zone untrust inet
}
term v4-and-v6 {
  destination-address:: FOOBAR
  protocol:: tcp
  action:: accept
}
`
	g := build(t, src)
	rule := findRule(g, "v4-and-v6")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"10.0.0.0/8"}, rule.find("destination").memberTexts())
}

func TestRenderDeterministic(t *testing.T) {
	src := goodHeader + `
term good-term-1 {
  destination-address:: FOOBAR
  destination-port:: SMTP
  protocol:: tcp
  action:: accept
}
`
	first, err := New(parse(t, src))
	require.NoError(t, err)
	second, err := New(parse(t, src))
	require.NoError(t, err)
	a, err := first.Render()
	require.NoError(t, err)
	b, err := second.Render()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, ".xml", first.Suffix())
}

func TestExpiredTermAbsent(t *testing.T) {
	g := build(t, goodHeader+`
term expired-term {
  expiration:: 2019-1-1
  action:: deny
}
term live-term {
  action:: deny
}
`)
	assert.Nil(t, findRule(g, "expired-term"))
	assert.NotNil(t, findRule(g, "live-term"))
}

func TestOptimizedEquivalence(t *testing.T) {
	defs := naming.NewDefinitions()
	require.NoError(t, defs.ParseDefinitions("defs.def", []byte(`
network "SPLIT" { members = ["10.0.0.0/9", "10.128.0.0/9"] }
network "WHOLE" { members = ["10.0.0.0/8"] }
`)))
	render := func(token string) string {
		src := goodHeader + `
term the-term {
  destination-address:: ` + token + `
  protocol:: tcp
  action:: accept
}
`
		pol, err := policy.Parse(src, policy.Options{Definitions: defs, Filename: "opt.pol"})
		require.NoError(t, err)
		for _, f := range pol.Filters {
			for _, term := range f.Terms {
				term.DestinationAddress = netset.Collapse(term.DestinationAddress)
			}
		}
		g, err := New(pol)
		require.NoError(t, err)
		out, err := g.Render()
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, render("WHOLE"), render("SPLIT"))
}
