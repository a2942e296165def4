// Package pactpath parses and compares the path expressions pact files use to address nodes
// inside bodies, headers and query strings (`$.items[0].id`, `$['a key']`, `$.items[*]`).
package pactpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the type of a path segment.
type Kind int

const (
	RootSegment Kind = iota
	FieldSegment
	IndexSegment
	WildcardSegment
)

func (k Kind) String() string {
	switch k {
	case RootSegment:
		return "root"
	case FieldSegment:
		return "field"
	case IndexSegment:
		return "index"
	case WildcardSegment:
		return "wildcard"
	}
	return "unknown"
}

// Segment is a single step in a path expression.
type Segment struct {
	Kind  Kind
	Name  string
	Index int
}

// matches reports whether s, taken from a rule key, addresses the concrete segment c.
func (s Segment) matches(c Segment) bool {
	switch s.Kind {
	case RootSegment:
		return c.Kind == RootSegment
	case WildcardSegment:
		return c.Kind == FieldSegment || c.Kind == IndexSegment || c.Kind == WildcardSegment
	case FieldSegment:
		return c.Kind == FieldSegment && c.Name == s.Name
	case IndexSegment:
		return c.Kind == IndexSegment && c.Index == s.Index
	}
	return false
}

var plainField = regexp.MustCompile(`^[^$.\[\]'"*\s]+$`)

func (s Segment) String() string {
	switch s.Kind {
	case RootSegment:
		return "$"
	case IndexSegment:
		return "[" + strconv.Itoa(s.Index) + "]"
	case WildcardSegment:
		return "[*]"
	}
	if plainField.MatchString(s.Name) {
		return "." + s.Name
	}
	if strings.Contains(s.Name, "'") {
		return `["` + s.Name + `"]`
	}
	return "['" + s.Name + "']"
}

// Expression is an immutable sequence of segments that always starts with the root segment.
// The zero value behaves like the root expression `$`.
type Expression struct {
	segments []Segment
}

// Root returns the expression `$`.
func Root() Expression {
	return Expression{segments: []Segment{{Kind: RootSegment}}}
}

func (e Expression) all() []Segment {
	if len(e.segments) == 0 {
		return []Segment{{Kind: RootSegment}}
	}
	return e.segments
}

func (e Expression) with(s Segment) Expression {
	current := e.all()
	segments := make([]Segment, len(current), len(current)+1)
	copy(segments, current)
	return Expression{segments: append(segments, s)}
}

// Field returns a child expression addressing the named member.
func (e Expression) Field(name string) Expression {
	return e.with(Segment{Kind: FieldSegment, Name: name})
}

// Index returns a child expression addressing an array element.
func (e Expression) Index(index int) Expression {
	return e.with(Segment{Kind: IndexSegment, Index: index})
}

// Wildcard returns a child expression matching any member or element.
func (e Expression) Wildcard() Expression {
	return e.with(Segment{Kind: WildcardSegment})
}

// Append returns e extended by s. A root segment is ignored.
func (e Expression) Append(s Segment) Expression {
	if s.Kind == RootSegment {
		return e
	}
	return e.with(s)
}

// Join appends the non-root segments of rel to e.
func (e Expression) Join(rel Expression) Expression {
	current := e.all()
	tail := rel.all()[1:]
	segments := make([]Segment, 0, len(current)+len(tail))
	segments = append(segments, current...)
	return Expression{segments: append(segments, tail...)}
}

// Segments returns a copy of the segments, root included.
func (e Expression) Segments() []Segment {
	return append([]Segment(nil), e.all()...)
}

// Len returns the number of segments, root included.
func (e Expression) Len() int {
	return len(e.all())
}

// IsRoot reports whether the expression is just `$`.
func (e Expression) IsRoot() bool {
	return e.Len() == 1
}

// Last returns the final segment.
func (e Expression) Last() Segment {
	segments := e.all()
	return segments[len(segments)-1]
}

// Literals counts the segments that are not wildcards.
func (e Expression) Literals() int {
	count := 0
	for _, s := range e.all() {
		if s.Kind != WildcardSegment {
			count++
		}
	}
	return count
}

// Wildcards counts the wildcard segments.
func (e Expression) Wildcards() int {
	return e.Len() - e.Literals()
}

// HasWildcard reports whether any segment is a wildcard.
func (e Expression) HasWildcard() bool {
	return e.Wildcards() > 0
}

// Equal reports whether both expressions have identical segments.
func (e Expression) Equal(other Expression) bool {
	a, b := e.all(), other.all()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MatchesPrefix reports whether e, used as a rule key, addresses concrete or one of its ancestors.
func (e Expression) MatchesPrefix(concrete Expression) bool {
	key, path := e.all(), concrete.all()
	if len(key) > len(path) {
		return false
	}
	for i := range key {
		if !key[i].matches(path[i]) {
			return false
		}
	}
	return true
}

// Matches reports whether e, used as a rule key, addresses exactly the concrete path.
func (e Expression) Matches(concrete Expression) bool {
	return e.Len() == concrete.Len() && e.MatchesPrefix(concrete)
}

// Compare orders expressions by specificity. It returns a positive number when e is more specific
// than other: more literal segments win, and on a tie the longer expression wins.
func Compare(e, other Expression) int {
	if d := e.Literals() - other.Literals(); d != 0 {
		return d
	}
	return e.Len() - other.Len()
}

func (e Expression) String() string {
	var b strings.Builder
	for _, s := range e.all() {
		b.WriteString(s.String())
	}
	return b.String()
}

func (e Expression) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Expression) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ParseError reports a malformed path expression.
type ParseError struct {
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid path expression '%s': %s", e.Expression, e.Reason)
}
