// Package matchers holds the matching rules found in pact files, the path-keyed rule sets they
// are stored in, and the evaluators that check an actual value against a single rule.
//
// Rule is a closed set of variants: every variant is declared in this file and Evaluate has
// one arm per variant.
package matchers

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the discriminant written to the "match" field of a matcher definition.
type Kind string

const (
	KindEquality      Kind = "equality"
	KindType          Kind = "type"
	KindMinType       Kind = "min"
	KindMaxType       Kind = "max"
	KindMinMaxType    Kind = "minmax"
	KindRegex         Kind = "regex"
	KindTimestamp     Kind = "timestamp"
	KindTime          Kind = "time"
	KindDate          Kind = "date"
	KindInclude       Kind = "include"
	KindInteger       Kind = "integer"
	KindDecimal       Kind = "decimal"
	KindNumber        Kind = "number"
	KindNull          Kind = "null"
	KindBoolean       Kind = "boolean"
	KindContentType   Kind = "contentType"
	KindEachKey       Kind = "eachKey"
	KindEachValue     Kind = "eachValue"
	KindArrayContains Kind = "arrayContains"
	KindStatusCode    Kind = "statusCode"
)

// Rule is a single matcher. The unexported method keeps the set of variants closed.
type Rule interface {
	Kind() Kind
	String() string
	rule()
}

type Equality struct{}

type Type struct{}

type MinType struct {
	Min int
}

type MaxType struct {
	Max int
}

type MinMaxType struct {
	Min int
	Max int
}

type Regex struct {
	Pattern string
	re      *regexp.Regexp
}

// NewRegex compiles pattern for full-value matching.
func NewRegex(pattern string) (Regex, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return Regex{}, err
	}
	return Regex{Pattern: pattern, re: re}, nil
}

// MustRegex is like NewRegex but panics on an invalid pattern.
func MustRegex(pattern string) Regex {
	r, err := NewRegex(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Regex) matchString(s string) bool {
	if r.re == nil {
		compiled, err := NewRegex(r.Pattern)
		if err != nil {
			return false
		}
		return compiled.re.MatchString(s)
	}
	return r.re.MatchString(s)
}

// Timestamp, Time and Date carry a SimpleDateFormat style pattern such as "yyyy-MM-dd'T'HH:mm:ssXXX".
type Timestamp struct {
	Format string
}

type Time struct {
	Format string
}

type Date struct {
	Format string
}

type Include struct {
	Value string
}

type Integer struct{}

type Decimal struct{}

type Number struct{}

type Null struct{}

type Boolean struct{}

type ContentType struct {
	MimeType string
}

// EachKey applies its rules to every key of an object.
type EachKey struct {
	Rules RuleGroup
}

// EachValue applies its rules to every value of an object.
type EachValue struct {
	Rules RuleGroup
}

// Variant is one expected element of an ArrayContains rule: the expected value at Index of the
// expected array, compared with Rules rooted at the element.
type Variant struct {
	Index int
	Rules *RuleSet
}

type ArrayContains struct {
	Variants []Variant
}

// StatusCode matches a response status against a class (success, clientError, ...) or a list of codes.
type StatusCode struct {
	Class string
	Codes []int
}

func (Equality) Kind() Kind      { return KindEquality }
func (Type) Kind() Kind          { return KindType }
func (MinType) Kind() Kind       { return KindMinType }
func (MaxType) Kind() Kind       { return KindMaxType }
func (MinMaxType) Kind() Kind    { return KindMinMaxType }
func (Regex) Kind() Kind         { return KindRegex }
func (Timestamp) Kind() Kind     { return KindTimestamp }
func (Time) Kind() Kind          { return KindTime }
func (Date) Kind() Kind          { return KindDate }
func (Include) Kind() Kind       { return KindInclude }
func (Integer) Kind() Kind       { return KindInteger }
func (Decimal) Kind() Kind       { return KindDecimal }
func (Number) Kind() Kind        { return KindNumber }
func (Null) Kind() Kind          { return KindNull }
func (Boolean) Kind() Kind       { return KindBoolean }
func (ContentType) Kind() Kind   { return KindContentType }
func (EachKey) Kind() Kind       { return KindEachKey }
func (EachValue) Kind() Kind     { return KindEachValue }
func (ArrayContains) Kind() Kind { return KindArrayContains }
func (StatusCode) Kind() Kind    { return KindStatusCode }

func (Equality) rule()      {}
func (Type) rule()          {}
func (MinType) rule()       {}
func (MaxType) rule()       {}
func (MinMaxType) rule()    {}
func (Regex) rule()         {}
func (Timestamp) rule()     {}
func (Time) rule()          {}
func (Date) rule()          {}
func (Include) rule()       {}
func (Integer) rule()       {}
func (Decimal) rule()       {}
func (Number) rule()        {}
func (Null) rule()          {}
func (Boolean) rule()       {}
func (ContentType) rule()   {}
func (EachKey) rule()       {}
func (EachValue) rule()     {}
func (ArrayContains) rule() {}
func (StatusCode) rule()    {}

func (Equality) String() string     { return "equality" }
func (Type) String() string         { return "type" }
func (r MinType) String() string    { return fmt.Sprintf("type with min %d", r.Min) }
func (r MaxType) String() string    { return fmt.Sprintf("type with max %d", r.Max) }
func (r MinMaxType) String() string { return fmt.Sprintf("type with min %d and max %d", r.Min, r.Max) }
func (r Regex) String() string      { return fmt.Sprintf("regex '%s'", r.Pattern) }
func (r Timestamp) String() string  { return fmt.Sprintf("timestamp '%s'", r.Format) }
func (r Time) String() string       { return fmt.Sprintf("time '%s'", r.Format) }
func (r Date) String() string       { return fmt.Sprintf("date '%s'", r.Format) }
func (r Include) String() string    { return fmt.Sprintf("include '%s'", r.Value) }
func (Integer) String() string      { return "integer" }
func (Decimal) String() string      { return "decimal" }
func (Number) String() string       { return "number" }
func (Null) String() string         { return "null" }
func (Boolean) String() string      { return "boolean" }
func (r ContentType) String() string {
	return fmt.Sprintf("content type '%s'", r.MimeType)
}
func (r EachKey) String() string   { return "each key (" + r.Rules.String() + ")" }
func (r EachValue) String() string { return "each value (" + r.Rules.String() + ")" }
func (r ArrayContains) String() string {
	return fmt.Sprintf("array contains %d variant(s)", len(r.Variants))
}
func (r StatusCode) String() string {
	if r.Class != "" {
		return "status code " + r.Class
	}
	codes := make([]string, len(r.Codes))
	for i, c := range r.Codes {
		codes[i] = fmt.Sprint(c)
	}
	return "status code in [" + strings.Join(codes, ", ") + "]"
}

// IsCardinality reports whether r constrains the number of elements of an array.
func IsCardinality(r Rule) bool {
	switch r.(type) {
	case MinType, MaxType, MinMaxType:
		return true
	}
	return false
}
