package generator

import (
	"fmt"
	"strings"
)

// Tag is a label some backends attach to the rules of one filter block,
// carrying the block's comment text.
type Tag struct {
	Name    string
	Comment string
}

// TagPool allocates block labels deterministically within one
// compilation. The key is built from the header's target parameters and
// its concatenated comments; the first sighting of a key allocates a new
// label, later sightings reuse it. Headers without comments get no tag.
type TagPool struct {
	byKey map[string]*Tag
	order []*Tag
}

func NewTagPool() *TagPool {
	return &TagPool{byKey: make(map[string]*Tag)}
}

// Tag returns the label for (params, comment), allocating on first use.
// A nil return means the header had no comment.
func (p *TagPool) Tag(params []string, comment string) *Tag {
	if comment == "" {
		return nil
	}
	key := strings.Join(params, "\x00") + "\x00" + comment
	if tag, ok := p.byKey[key]; ok {
		return tag
	}
	tag := &Tag{
		Name:    fmt.Sprintf("%s_policy-comment-%d", strings.Join(params, "_"), len(p.order)+1),
		Comment: comment,
	}
	p.byKey[key] = tag
	p.order = append(p.order, tag)
	return tag
}

// Tags returns all allocated labels in allocation order.
func (p *TagPool) Tags() []*Tag {
	return p.order
}
