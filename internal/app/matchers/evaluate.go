package matchers

import (
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Scope tells the evaluators where a value comes from.
type Scope int

const (
	// BodyScope values keep their JSON types.
	BodyScope Scope = iota
	// TextScope values are strings taken from headers, query parameters, paths or status lines,
	// so numeric and boolean matchers parse them.
	TextScope
)

// Context carries the evaluation circumstances of a single rule.
type Context struct {
	Scope Scope
	// Inherited is set when the rule was registered for an ancestor of the evaluated node.
	Inherited bool
}

// Failure is the outcome of a rule that did not match.
type Failure struct {
	Rule    Rule
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

func fail(r Rule, format string, args ...interface{}) *Failure {
	return &Failure{Rule: r, Message: fmt.Sprintf(format, args...)}
}

// Evaluate checks actual against r. Regex, format and type-class rules ignore the expected value.
// On containers only type-like rules apply: cardinality rules check the array size unless the rule
// is inherited, and scalar rules inherited from an ancestor are left for the leaves.
func Evaluate(r Rule, expected, actual interface{}, ctx Context) *Failure {
	if IsContainer(actual) && ctx.Inherited {
		switch r.(type) {
		case Equality, Type, MinType, MaxType, MinMaxType:
		default:
			return nil
		}
	}

	switch rule := r.(type) {
	case Equality:
		if IsContainer(expected) && IsContainer(actual) && TypeOf(expected) == TypeOf(actual) {
			return nil
		}
		if !Equal(expected, actual) {
			return fail(rule, "Expected %s to be equal to %s", Describe(actual), Describe(expected))
		}
		return nil

	case Type:
		return matchType(rule, expected, actual, ctx)

	case MinType:
		if failure := matchType(rule, expected, actual, ctx); failure != nil {
			return failure
		}
		if size, ok := arraySize(actual); ok && !ctx.Inherited && size < rule.Min {
			return fail(rule, "Expected %s (size %d) to have minimum size of %d", Describe(actual), size, rule.Min)
		}
		return nil

	case MaxType:
		if failure := matchType(rule, expected, actual, ctx); failure != nil {
			return failure
		}
		if size, ok := arraySize(actual); ok && !ctx.Inherited && size > rule.Max {
			return fail(rule, "Expected %s (size %d) to have maximum size of %d", Describe(actual), size, rule.Max)
		}
		return nil

	case MinMaxType:
		if failure := matchType(rule, expected, actual, ctx); failure != nil {
			return failure
		}
		if size, ok := arraySize(actual); ok && !ctx.Inherited {
			if size < rule.Min {
				return fail(rule, "Expected %s (size %d) to have minimum size of %d", Describe(actual), size, rule.Min)
			}
			if size > rule.Max {
				return fail(rule, "Expected %s (size %d) to have maximum size of %d", Describe(actual), size, rule.Max)
			}
		}
		return nil

	case Regex:
		if IsContainer(actual) || (actual == nil && ctx.Scope == BodyScope) {
			return fail(rule, "Expected %s to match '%s'", Describe(actual), rule.Pattern)
		}
		if !rule.matchString(Text(actual)) {
			return fail(rule, "Expected %s to match '%s'", Describe(actual), rule.Pattern)
		}
		return nil

	case Timestamp:
		return matchTime(rule, rule.Format, "timestamp", defaultTimestampLayouts, actual)

	case Date:
		return matchTime(rule, rule.Format, "date", defaultDateLayouts, actual)

	case Time:
		return matchTime(rule, rule.Format, "time", defaultTimeLayouts, actual)

	case Include:
		if IsContainer(actual) || actual == nil || !strings.Contains(Text(actual), rule.Value) {
			return fail(rule, "Expected %s to include '%s'", Describe(actual), rule.Value)
		}
		return nil

	case Integer:
		if text, ok := numericText(actual, ctx); ok && isIntegerText(text) {
			return nil
		}
		return fail(rule, "Expected %s to be an integer", Describe(actual))

	case Decimal:
		if text, ok := numericText(actual, ctx); ok && isDecimalText(text) {
			return nil
		}
		return fail(rule, "Expected %s to be a decimal number", Describe(actual))

	case Number:
		if text, ok := numericText(actual, ctx); ok {
			if _, err := strconv.ParseFloat(text, 64); err == nil {
				return nil
			}
		}
		return fail(rule, "Expected %s to be a number", Describe(actual))

	case Null:
		if actual == nil || (ctx.Scope == TextScope && actual == "") {
			return nil
		}
		return fail(rule, "Expected %s to be null", Describe(actual))

	case Boolean:
		switch v := actual.(type) {
		case bool:
			return nil
		case string:
			if ctx.Scope == TextScope && (v == "true" || v == "false") {
				return nil
			}
		}
		return fail(rule, "Expected %s to be a boolean", Describe(actual))

	case ContentType:
		detected := DetectContentType([]byte(Text(actual)))
		if !sameMediaType(rule.MimeType, detected) {
			return fail(rule, "Expected content of type '%s' but got '%s'", rule.MimeType, detected)
		}
		return nil

	case StatusCode:
		return matchStatus(rule, actual)

	case EachKey, EachValue, ArrayContains:
		// structural rules are applied by the diff engine while walking the container
		return nil
	}

	return fail(r, "Unsupported matcher %s", r.Kind())
}

func matchType(r Rule, expected, actual interface{}, ctx Context) *Failure {
	et, at := TypeOf(expected), TypeOf(actual)
	if ctx.Scope == TextScope || et == at {
		return nil
	}
	return fail(r, "Expected %s (%s) to be the same type as %s (%s)", Describe(actual), at, Describe(expected), et)
}

func arraySize(v interface{}) (int, bool) {
	a, ok := v.([]interface{})
	if !ok {
		return 0, false
	}
	return len(a), true
}

func numericText(v interface{}, ctx Context) (string, bool) {
	if text, ok := numberText(v); ok {
		return text, true
	}
	if s, ok := v.(string); ok && ctx.Scope == TextScope {
		return s, true
	}
	return "", false
}

var (
	defaultTimestampLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		time.RFC1123,
		time.RFC1123Z,
	}
	defaultDateLayouts = []string{"2006-01-02"}
	defaultTimeLayouts = []string{"15:04:05", "15:04:05.999999999", "15:04:05Z07:00", "15:04"}
)

func matchTime(r Rule, format, name string, defaults []string, actual interface{}) *Failure {
	value, ok := actual.(string)
	if !ok {
		return fail(r, "Expected %s to match a %s of '%s': value is not a string", Describe(actual), name, format)
	}

	if format == "" {
		for _, layout := range defaults {
			if _, err := time.Parse(layout, value); err == nil {
				return nil
			}
		}
		return fail(r, "Expected %s to match a %s in ISO 8601 format", Describe(actual), name)
	}

	layout, err := GoLayout(format)
	if err != nil {
		return fail(r, "Expected %s to match a %s of '%s': %s", Describe(actual), name, format, err.Error())
	}
	if _, err := time.Parse(layout, value); err != nil {
		return fail(r, "Expected %s to match a %s of '%s': %s", Describe(actual), name, format, err.Error())
	}
	return nil
}

var statusClasses = map[string]func(int) bool{
	"information": func(c int) bool { return c >= 100 && c < 200 },
	"success":     func(c int) bool { return c >= 200 && c < 300 },
	"redirect":    func(c int) bool { return c >= 300 && c < 400 },
	"clientError": func(c int) bool { return c >= 400 && c < 500 },
	"serverError": func(c int) bool { return c >= 500 && c < 600 },
	"nonError":    func(c int) bool { return c < 400 },
	"error":       func(c int) bool { return c >= 400 },
}

func matchStatus(r StatusCode, actual interface{}) *Failure {
	var code int
	switch v := actual.(type) {
	case int:
		code = v
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fail(r, "Expected %s to be a status code", Describe(actual))
		}
		code = parsed
	default:
		f, ok := Float(actual)
		if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return fail(r, "Expected %s to be a status code", Describe(actual))
		}
		code = int(f)
	}

	if r.Class != "" {
		check, ok := statusClasses[r.Class]
		if !ok {
			return fail(r, "Unknown status code class '%s'", r.Class)
		}
		if !check(code) {
			return fail(r, "Expected status code %d to be a %s response", code, r.Class)
		}
		return nil
	}

	for _, c := range r.Codes {
		if c == code {
			return nil
		}
	}
	return fail(r, "Expected status code %d to be one of %v", code, r.Codes)
}

// DetectContentType sniffs the media type of a body. JSON and XML are recognised before falling
// back to the standard MIME sniffing algorithm.
func DetectContentType(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case trimmed == "":
		return "text/plain"
	case gjson.Valid(trimmed) && (trimmed[0] == '{' || trimmed[0] == '['):
		return "application/json"
	case strings.HasPrefix(trimmed, "<?xml") || (strings.HasPrefix(trimmed, "<") && !strings.HasPrefix(strings.ToLower(trimmed), "<!doctype html") && !strings.HasPrefix(strings.ToLower(trimmed), "<html")):
		return "application/xml"
	}
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(body))
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}

func sameMediaType(expected, actual string) bool {
	e, _, err := mime.ParseMediaType(expected)
	if err != nil {
		e = expected
	}
	a, _, err := mime.ParseMediaType(actual)
	if err != nil {
		a = actual
	}
	return strings.EqualFold(e, a)
}
