package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aclforge/aclforge/internal/naming"
	"github.com/aclforge/aclforge/internal/netset"
)

// Includer supplies the text behind #include directives. The parser
// never touches a filesystem itself.
type Includer interface {
	Include(name string) (string, error)
}

// MapIncluder serves includes from an in-memory map.
type MapIncluder map[string]string

func (m MapIncluder) Include(name string) (string, error) {
	text, ok := m[name]
	if !ok {
		return "", fmt.Errorf("include %q not found", name)
	}
	return text, nil
}

// maxIncludeDepth bounds nested #include expansion.
const maxIncludeDepth = 5

// Options configures one parse.
type Options struct {
	Definitions *naming.Definitions
	Includer    Includer
	Filename    string

	// ExpWeeks is the look-ahead window: terms expiring within that
	// many weeks produce an informational notice.
	ExpWeeks int

	// Now anchors expiration checks; zero means the wall clock.
	Now time.Time
}

// Parse turns policy source text into a Policy, resolving every address
// and service token through the definitions snapshot. Expired terms are
// dropped with a notice; malformed syntax returns a PolicyParseError.
func Parse(src string, opts Options) (*Policy, error) {
	if opts.Definitions == nil {
		return nil, fmt.Errorf("parse %s: no definitions provided", opts.Filename)
	}
	lines, err := expandIncludes(src, opts.Filename, opts.Includer, 0)
	if err != nil {
		return nil, err
	}

	p := &parser{opts: opts}
	if err := p.run(lines); err != nil {
		return nil, err
	}

	pol := &Policy{Filename: opts.Filename, Filters: p.filters}
	filterExpired(pol, opts)
	return pol, nil
}

type sourceLine struct {
	file string
	num  int
	text string
}

// expandIncludes splices #include directives into a flat line list,
// preserving per-file line numbers for error context.
func expandIncludes(src, filename string, inc Includer, depth int) ([]sourceLine, error) {
	if depth > maxIncludeDepth {
		return nil, &PolicyParseError{File: filename, Msg: "includes nested too deeply"}
	}
	var out []sourceLine
	for i, raw := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "#include") {
			name := strings.Trim(strings.TrimSpace(strings.TrimPrefix(trimmed, "#include")), `'"`)
			if inc == nil {
				return nil, &PolicyParseError{File: filename, Line: i + 1, Msg: fmt.Sprintf("no include resolver for %q", name)}
			}
			text, err := inc.Include(name)
			if err != nil {
				return nil, &PolicyParseError{File: filename, Line: i + 1, Msg: "include failed", Err: err}
			}
			nested, err := expandIncludes(text, name, inc, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, sourceLine{file: filename, num: i + 1, text: raw})
	}
	return out, nil
}

type fieldLine struct {
	key    string
	values []string
	line   int
}

type parser struct {
	opts    Options
	filters []Filter

	header    *Header
	termName  string
	termLine  int
	fields    []fieldLine
	termNames map[string]bool
	state     state
}

type state int

const (
	stateTop state = iota
	stateHeader
	stateTerm
)

func (p *parser) errf(ln sourceLine, msg string, args ...any) error {
	return &PolicyParseError{File: ln.file, Line: ln.num, Msg: fmt.Sprintf(msg, args...)}
}

func (p *parser) run(lines []sourceLine) error {
	for _, ln := range lines {
		text := stripComment(ln.text)
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}

		switch {
		case trimmed == "header" || trimmed == "header {":
			if p.state != stateTop {
				return p.errf(ln, "header block opened inside another block")
			}
			p.header = &Header{}
			p.termNames = map[string]bool{}
			p.state = stateHeader

		case strings.HasPrefix(trimmed, "term "):
			if p.state == stateTerm {
				return p.errf(ln, "term block opened inside another term")
			}
			if p.header == nil {
				return p.errf(ln, "term before any header")
			}
			name := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(trimmed, "term ")), "{")
			name = strings.TrimSpace(name)
			if name == "" {
				return p.errf(ln, "term without a name")
			}
			if p.termNames[name] {
				return p.errf(ln, "duplicate term name %q", name)
			}
			// First term after a header closes the header block.
			if p.state == stateHeader {
				p.filters = append(p.filters, Filter{Header: p.header})
				p.state = stateTop
			}
			p.termName = name
			p.termLine = ln.num
			p.fields = nil
			p.state = stateTerm

		case trimmed == "{":
			if p.state == stateTop {
				return p.errf(ln, "unexpected opening brace")
			}

		case trimmed == "}":
			switch p.state {
			case stateHeader:
				p.filters = append(p.filters, Filter{Header: p.header})
				p.state = stateTop
			case stateTerm:
				term, err := p.buildTerm(ln)
				if err != nil {
					return err
				}
				f := &p.filters[len(p.filters)-1]
				f.Terms = append(f.Terms, term)
				p.termNames[term.Name] = true
				p.state = stateTop
			default:
				return p.errf(ln, "unexpected closing brace")
			}

		case strings.Contains(trimmed, "::"):
			key, rest, _ := strings.Cut(trimmed, "::")
			values, err := splitValues(strings.TrimSpace(rest))
			if err != nil {
				return p.errf(ln, "bad value list: %v", err)
			}
			switch p.state {
			case stateHeader:
				if err := p.headerField(ln, strings.TrimSpace(key), values); err != nil {
					return err
				}
			case stateTerm:
				p.fields = append(p.fields, fieldLine{key: strings.TrimSpace(key), values: values, line: ln.num})
			default:
				return p.errf(ln, "field outside of a block")
			}

		default:
			// Continuation of the previous field's value list.
			if p.state != stateTerm || len(p.fields) == 0 {
				return p.errf(ln, "unrecognized line %q", trimmed)
			}
			values, err := splitValues(trimmed)
			if err != nil {
				return p.errf(ln, "bad value list: %v", err)
			}
			p.fields[len(p.fields)-1].values = append(p.fields[len(p.fields)-1].values, values...)
		}
	}
	if p.state != stateTop {
		last := sourceLine{file: p.opts.Filename}
		if len(lines) > 0 {
			last = lines[len(lines)-1]
		}
		return p.errf(last, "unterminated block at end of input")
	}
	if len(p.filters) == 0 {
		return &PolicyParseError{File: p.opts.Filename, Msg: "no filter blocks found"}
	}
	return nil
}

func (p *parser) headerField(ln sourceLine, key string, values []string) error {
	switch key {
	case "comment":
		p.header.Comments = append(p.header.Comments, strings.Join(values, " "))
	case "target":
		if len(values) == 0 {
			return p.errf(ln, "target without a platform")
		}
		p.header.Targets = append(p.header.Targets, Target{
			Platform: values[0],
			Options:  values[1:],
		})
	case "apply-groups", "apply-groups-except":
		// Accepted for compatibility; carried by no supported platform.
	default:
		return p.errf(ln, "unknown header keyword %q", key)
	}
	return nil
}

// buildTerm assembles and resolves one term from its accumulated fields.
func (p *parser) buildTerm(closing sourceLine) (*Term, error) {
	t := &Term{Name: p.termName, Line: p.termLine}
	for _, f := range p.fields {
		ln := sourceLine{file: closing.file, num: f.line}
		switch f.key {
		case "comment":
			t.Comments = append(t.Comments, strings.Join(f.values, " "))
		case "owner":
			t.Owner = strings.Join(f.values, " ")
		case "source-address":
			t.SourceTokens = append(t.SourceTokens, f.values...)
		case "source-exclude":
			t.SourceExcludeTokens = append(t.SourceExcludeTokens, f.values...)
		case "destination-address":
			t.DestinationTokens = append(t.DestinationTokens, f.values...)
		case "destination-exclude":
			t.DestExcludeTokens = append(t.DestExcludeTokens, f.values...)
		case "source-port":
			t.SourcePortTokens = append(t.SourcePortTokens, f.values...)
		case "destination-port":
			t.DestPortTokens = append(t.DestPortTokens, f.values...)
		case "protocol":
			t.Protocols = append(t.Protocols, f.values...)
		case "icmp-type":
			t.ICMPTypes = append(t.ICMPTypes, f.values...)
		case "option":
			t.Options = append(t.Options, f.values...)
		case "action":
			if t.Action != "" {
				return nil, p.errf(ln, "term %q sets action twice", t.Name)
			}
			if len(f.values) != 1 {
				return nil, p.errf(ln, "action takes exactly one value")
			}
			if !knownActions[f.values[0]] {
				return nil, p.errf(ln, "unknown action %q", f.values[0])
			}
			t.Action = f.values[0]
		case "logging":
			for _, v := range f.values {
				t.Logging = append(t.Logging, strings.ToLower(v))
			}
		case "counter":
			t.Counter = strings.Join(f.values, " ")
		case "expiration":
			if len(f.values) != 1 {
				return nil, p.errf(ln, "expiration takes exactly one date")
			}
			exp, err := time.Parse("2006-1-2", f.values[0])
			if err != nil {
				return nil, p.errf(ln, "bad expiration date %q", f.values[0])
			}
			t.Expiration = exp
		case "timeout":
			if len(f.values) != 1 {
				return nil, p.errf(ln, "timeout takes exactly one value")
			}
			n, err := strconv.Atoi(f.values[0])
			if err != nil || n < 0 {
				return nil, p.errf(ln, "bad timeout %q", f.values[0])
			}
			t.Timeout = n
		case "platform":
			t.Platforms = append(t.Platforms, f.values...)
		case "platform-exclude":
			t.PlatformExclude = append(t.PlatformExclude, f.values...)
		case "pan-application":
			t.PanApplications = append(t.PanApplications, f.values...)
		default:
			return nil, p.errf(ln, "unknown term keyword %q", f.key)
		}
	}
	if t.Action == "" {
		return nil, p.errf(closing, "term %q has no action", t.Name)
	}
	if err := p.resolve(t, closing); err != nil {
		return nil, err
	}
	return t, nil
}

// resolve attaches concrete address and port sets to the term's tokens.
func (p *parser) resolve(t *Term, closing sourceLine) error {
	defs := p.opts.Definitions

	resolveNets := func(tokens []string) (netset.AddressSet, error) {
		var sets []netset.AddressSet
		for _, tok := range tokens {
			set, err := defs.ResolveNetwork(tok)
			if err != nil {
				return nil, err
			}
			sets = append(sets, set)
		}
		return netset.Union(sets...), nil
	}
	resolvePorts := func(tokens []string) (netset.PortSet, error) {
		var sets []netset.PortSet
		for _, tok := range tokens {
			set, err := defs.ResolveService(tok)
			if err != nil {
				return nil, err
			}
			if len(t.Protocols) > 0 {
				var filtered netset.PortSet
				for _, proto := range t.Protocols {
					filtered = netset.UnionPorts(filtered, set.ByProtocol(proto))
				}
				set = filtered
			}
			sets = append(sets, set)
		}
		return netset.UnionPorts(sets...), nil
	}

	wrap := func(err error) error {
		return &PolicyParseError{
			File: closing.file, Line: t.Line,
			Msg: fmt.Sprintf("term %q", t.Name), Err: err,
		}
	}

	var err error
	if t.SourceAddress, err = resolveNets(t.SourceTokens); err != nil {
		return wrap(err)
	}
	if t.SourceExclude, err = resolveNets(t.SourceExcludeTokens); err != nil {
		return wrap(err)
	}
	if t.DestinationAddress, err = resolveNets(t.DestinationTokens); err != nil {
		return wrap(err)
	}
	if t.DestinationExclude, err = resolveNets(t.DestExcludeTokens); err != nil {
		return wrap(err)
	}
	if t.SourcePort, err = resolvePorts(t.SourcePortTokens); err != nil {
		return wrap(err)
	}
	if t.DestinationPort, err = resolvePorts(t.DestPortTokens); err != nil {
		return wrap(err)
	}
	return nil
}

// filterExpired drops terms already expired and flags terms expiring
// within the look-ahead window.
func filterExpired(pol *Policy, opts Options) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	window := today.AddDate(0, 0, opts.ExpWeeks*7)

	for i := range pol.Filters {
		f := &pol.Filters[i]
		kept := f.Terms[:0]
		for _, t := range f.Terms {
			if t.Expiration.IsZero() {
				kept = append(kept, t)
				continue
			}
			if t.Expiration.Before(today) {
				pol.Notices = append(pol.Notices, Notice{
					Kind:    NoticeExpired,
					Term:    t.Name,
					Message: fmt.Sprintf("term %s expired %s and was dropped", t.Name, t.Expiration.Format("2006-01-02")),
				})
				continue
			}
			if opts.ExpWeeks > 0 && !t.Expiration.After(window) {
				days := int(t.Expiration.Sub(today).Hours() / 24)
				pol.Notices = append(pol.Notices, Notice{
					Kind:         NoticeExpiring,
					Term:         t.Name,
					DaysToExpiry: days,
					Message:      fmt.Sprintf("term %s expires in %d days", t.Name, days),
				})
			}
			kept = append(kept, t)
		}
		f.Terms = kept
	}
}

// stripComment removes a trailing # comment, honoring double quotes.
func stripComment(line string) string {
	inQuote := false
	for i, r := range line {
		switch r {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

// splitValues tokenizes a value list: whitespace-separated words, with
// double-quoted strings kept as single values.
func splitValues(s string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			if inQuote {
				out = append(out, cur.String())
				cur.Reset()
			} else {
				flush()
			}
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return out, nil
}
