package paloalto

import (
	"strings"
)

// element is a minimal ordered XML tree; PAN-OS configuration is a
// deeply nested document whose child order matters, so the tree is
// built explicitly and rendered with stable two-space indentation.
type element struct {
	tag      string
	attrs    []attribute
	text     string
	children []*element
}

type attribute struct {
	key, value string
}

func newElement(tag string) *element {
	return &element{tag: tag}
}

func (e *element) attr(key, value string) *element {
	e.attrs = append(e.attrs, attribute{key: key, value: value})
	return e
}

// add creates, appends and returns a child element.
func (e *element) add(tag string) *element {
	child := &element{tag: tag}
	e.children = append(e.children, child)
	return child
}

// addText creates a child carrying only text content.
func (e *element) addText(tag, text string) *element {
	child := e.add(tag)
	child.text = text
	return child
}

// members appends a <member> child per value.
func (e *element) members(values ...string) *element {
	for _, v := range values {
		e.addText("member", v)
	}
	return e
}

// find walks a path of child tags, returning nil when any hop is
// missing. Attribute selectors use "tag[name=value]" syntax.
func (e *element) find(path ...string) *element {
	cur := e
	for _, hop := range path {
		tag, name := hop, ""
		if i := strings.Index(hop, "["); i >= 0 {
			tag = hop[:i]
			name = strings.TrimSuffix(strings.TrimPrefix(hop[i:], "[name="), "]")
		}
		var next *element
		for _, c := range cur.children {
			if c.tag != tag {
				continue
			}
			if name != "" && c.attrValue("name") != name {
				continue
			}
			next = c
			break
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func (e *element) attrValue(key string) string {
	for _, a := range e.attrs {
		if a.key == key {
			return a.value
		}
	}
	return ""
}

// memberTexts returns the text of every <member> child.
func (e *element) memberTexts() []string {
	var out []string
	for _, c := range e.children {
		if c.tag == "member" {
			out = append(out, c.text)
		}
	}
	return out
}

func (e *element) String() string {
	var b strings.Builder
	e.render(&b, 0)
	return b.String()
}

func (e *element) render(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteByte('<')
	b.WriteString(e.tag)
	for _, a := range e.attrs {
		b.WriteByte(' ')
		b.WriteString(a.key)
		b.WriteString(`="`)
		b.WriteString(escapeXML(a.value))
		b.WriteString(`"`)
	}
	if len(e.children) == 0 && e.text == "" {
		b.WriteString("/>\n")
		return
	}
	b.WriteByte('>')
	if len(e.children) == 0 {
		b.WriteString(escapeXML(e.text))
		b.WriteString("</")
		b.WriteString(e.tag)
		b.WriteString(">\n")
		return
	}
	b.WriteByte('\n')
	for _, c := range e.children {
		c.render(b, depth+1)
	}
	b.WriteString(indent)
	b.WriteString("</")
	b.WriteString(e.tag)
	b.WriteString(">\n")
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
