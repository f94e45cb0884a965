package index

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Filter is a small boolean tree over item metadata. Each node compiles
// to a parameterised SQL predicate (never concatenated user input) and
// to an in-memory predicate used when patching single records without a
// database round trip.
type Filter interface {
	SQL() (string, []any)
	Match(rec *ItemRecord) bool
}

// TagFilter matches items carrying at least one tag that matches the
// glob pattern. The SQL side uses SQLite's native GLOB operator with a
// bound parameter; the in-memory side uses a compiled matcher.
type TagFilter struct {
	Pattern string
	matcher glob.Glob
}

// NewTagFilter compiles the glob pattern up front so a malformed
// pattern fails at construction, not per row.
func NewTagFilter(pattern string) (*TagFilter, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile tag pattern %q: %w", pattern, err)
	}
	return &TagFilter{Pattern: pattern, matcher: g}, nil
}

func (f *TagFilter) SQL() (string, []any) {
	return "EXISTS (SELECT 1 FROM tags WHERE tags.item_id = items.id AND tags.tag GLOB ?)", []any{f.Pattern}
}

func (f *TagFilter) Match(rec *ItemRecord) bool {
	for _, tag := range rec.Tags {
		if f.matcher.Match(tag) {
			return true
		}
	}
	return false
}

// NameFilter matches a case-insensitive substring of the relative path.
type NameFilter struct {
	Substring string
}

func (f *NameFilter) SQL() (string, []any) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(f.Substring)
	return `items.path LIKE ? ESCAPE '\'`, []any{"%" + escaped + "%"}
}

func (f *NameFilter) Match(rec *ItemRecord) bool {
	return strings.Contains(strings.ToLower(rec.Path), strings.ToLower(f.Substring))
}

// KindFilter restricts results to one media kind.
type KindFilter struct {
	Kind Kind
}

func (f *KindFilter) SQL() (string, []any) {
	return "items.kind = ?", []any{string(f.Kind)}
}

func (f *KindFilter) Match(rec *ItemRecord) bool {
	return rec.Facts.Kind == f.Kind
}

// Untagged matches items with no tags at all.
type Untagged struct{}

func (Untagged) SQL() (string, []any) {
	return "NOT EXISTS (SELECT 1 FROM tags WHERE tags.item_id = items.id)", nil
}

func (Untagged) Match(rec *ItemRecord) bool {
	return len(rec.Tags) == 0
}

// And is the conjunction of its children; empty And matches everything.
type And []Filter

func (f And) SQL() (string, []any) {
	return combine(f, " AND ", "1=1")
}

func (f And) Match(rec *ItemRecord) bool {
	for _, c := range f {
		if !c.Match(rec) {
			return false
		}
	}
	return true
}

// Or is the disjunction of its children; empty Or matches nothing.
type Or []Filter

func (f Or) SQL() (string, []any) {
	return combine(f, " OR ", "1=0")
}

func (f Or) Match(rec *ItemRecord) bool {
	for _, c := range f {
		if c.Match(rec) {
			return true
		}
	}
	return false
}

// Not inverts its child.
type Not struct {
	F Filter
}

func (f Not) SQL() (string, []any) {
	sql, args := f.F.SQL()
	return "NOT (" + sql + ")", args
}

func (f Not) Match(rec *ItemRecord) bool {
	return !f.F.Match(rec)
}

func combine(children []Filter, sep, empty string) (string, []any) {
	if len(children) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(children))
	var args []any
	for _, c := range children {
		sql, a := c.SQL()
		parts = append(parts, "("+sql+")")
		args = append(args, a...)
	}
	return strings.Join(parts, sep), args
}

// whereClause renders a WHERE fragment for an optional filter.
func whereClause(f Filter) (string, []any) {
	if f == nil {
		return "", nil
	}
	sql, args := f.SQL()
	return " WHERE " + sql, args
}
