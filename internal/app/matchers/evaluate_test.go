package matchers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateScalars(t *testing.T) {
	body := Context{Scope: BodyScope}
	text := Context{Scope: TextScope}
	uuid := MustRegex("[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}")

	tests := []struct {
		name     string
		rule     Rule
		expected interface{}
		actual   interface{}
		ctx      Context
		pass     bool
	}{
		{name: "equality equal", rule: Equality{}, expected: "a", actual: "a", ctx: body, pass: true},
		{name: "equality numbers by value", rule: Equality{}, expected: json.Number("1.0"), actual: float64(1), ctx: body, pass: true},
		{name: "equality different", rule: Equality{}, expected: "a", actual: "b", ctx: body},
		{name: "type same", rule: Type{}, expected: "a", actual: "zzz", ctx: body, pass: true},
		{name: "type different", rule: Type{}, expected: "a", actual: json.Number("42"), ctx: body},
		{name: "type ignores text scope", rule: Type{}, expected: "1", actual: "abc", ctx: text, pass: true},
		{name: "regex uuid", rule: uuid, expected: "ignored", actual: "3f2b8c4e-1d2a-4b6c-8e9f-0a1b2c3d4e5f", ctx: body, pass: true},
		{name: "regex not uuid", rule: uuid, expected: "3f2b8c4e-1d2a-4b6c-8e9f-0a1b2c3d4e5f", actual: "not-a-uuid", ctx: body},
		{name: "regex full match only", rule: MustRegex("\\d+"), actual: "12a", ctx: body},
		{name: "regex on number", rule: MustRegex("\\d+"), actual: json.Number("12"), ctx: body, pass: true},
		{name: "regex on null", rule: MustRegex(".*"), actual: nil, ctx: body},
		{name: "include", rule: Include{Value: "ell"}, actual: "hello", ctx: body, pass: true},
		{name: "include missing", rule: Include{Value: "xyz"}, actual: "hello", ctx: body},
		{name: "integer", rule: Integer{}, actual: json.Number("12"), ctx: body, pass: true},
		{name: "integer rejects decimal", rule: Integer{}, actual: json.Number("12.5"), ctx: body},
		{name: "integer rejects string in body", rule: Integer{}, actual: "12", ctx: body},
		{name: "integer accepts string in text scope", rule: Integer{}, actual: "12", ctx: text, pass: true},
		{name: "decimal", rule: Decimal{}, actual: json.Number("12.5"), ctx: body, pass: true},
		{name: "decimal rejects integer", rule: Decimal{}, actual: json.Number("12"), ctx: body},
		{name: "number", rule: Number{}, actual: json.Number("-3"), ctx: body, pass: true},
		{name: "number rejects string", rule: Number{}, actual: "3", ctx: body},
		{name: "null", rule: Null{}, actual: nil, ctx: body, pass: true},
		{name: "null rejects value", rule: Null{}, actual: "x", ctx: body},
		{name: "boolean", rule: Boolean{}, actual: false, ctx: body, pass: true},
		{name: "boolean text", rule: Boolean{}, actual: "true", ctx: text, pass: true},
		{name: "boolean rejects string in body", rule: Boolean{}, actual: "true", ctx: body},
		{name: "timestamp format", rule: Timestamp{Format: "yyyy-MM-dd'T'HH:mm:ssXXX"}, actual: "1999-02-13T00:00:00+07:00", ctx: body, pass: true},
		{name: "timestamp bad value", rule: Timestamp{Format: "yyyy-MM-dd'T'HH:mm:ssXXX"}, actual: "not-a-date", ctx: body},
		{name: "timestamp default iso", rule: Timestamp{}, actual: "2020-01-01T10:00:00Z", ctx: body, pass: true},
		{name: "date", rule: Date{Format: "dd/MM/yyyy"}, actual: "31/12/2021", ctx: body, pass: true},
		{name: "date invalid day", rule: Date{Format: "dd/MM/yyyy"}, actual: "32/12/2021", ctx: body},
		{name: "time", rule: Time{Format: "HH:mm"}, actual: "23:59", ctx: body, pass: true},
		{name: "time not string", rule: Time{Format: "HH:mm"}, actual: json.Number("2359"), ctx: body},
		{name: "content type json", rule: ContentType{MimeType: "application/json"}, actual: `{"a":1}`, ctx: body, pass: true},
		{name: "content type mismatch", rule: ContentType{MimeType: "application/xml"}, actual: `{"a":1}`, ctx: body},
		{name: "status class", rule: StatusCode{Class: "success"}, actual: 204, ctx: text, pass: true},
		{name: "status class fails", rule: StatusCode{Class: "clientError"}, actual: 500, ctx: text},
		{name: "status codes", rule: StatusCode{Codes: []int{200, 201}}, actual: "201", ctx: text, pass: true},
		{name: "status code integral number", rule: StatusCode{Codes: []int{201}}, actual: json.Number("201.0"), ctx: text, pass: true},
		{name: "status code rejects fraction", rule: StatusCode{Codes: []int{201}}, actual: json.Number("201.5"), ctx: text},
		{name: "status class rejects fraction", rule: StatusCode{Class: "success"}, actual: 200.25, ctx: text},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failure := Evaluate(tt.rule, tt.expected, tt.actual, tt.ctx)
			if tt.pass {
				assert.Nil(t, failure)
				return
			}
			require.NotNil(t, failure)
			assert.Equal(t, tt.rule.Kind(), failure.Rule.Kind())
			assert.NotEmpty(t, failure.Error())
		})
	}
}

func TestEvaluateMessages(t *testing.T) {
	failure := Evaluate(Type{}, "a", json.Number("42"), Context{})
	require.NotNil(t, failure)
	assert.Equal(t, "Expected 42 (Number) to be the same type as 'a' (String)", failure.Message)

	failure = Evaluate(MustRegex("\\d+"), "1", "abc", Context{})
	require.NotNil(t, failure)
	assert.Equal(t, "Expected 'abc' to match '\\d+'", failure.Message)

	failure = Evaluate(Timestamp{Format: "yyyy-MM-dd"}, nil, "nope", Context{})
	require.NotNil(t, failure)
	assert.Contains(t, failure.Message, "Expected 'nope' to match a timestamp of 'yyyy-MM-dd'")

	failure = Evaluate(Include{Value: "x"}, nil, "abc", Context{})
	require.NotNil(t, failure)
	assert.Equal(t, "Expected 'abc' to include 'x'", failure.Message)
}

func TestEvaluateCardinality(t *testing.T) {
	actual := []interface{}{"a", "b"}

	assert.Nil(t, Evaluate(MinType{Min: 2}, []interface{}{"x"}, actual, Context{}))
	assert.Nil(t, Evaluate(MaxType{Max: 2}, []interface{}{"x"}, actual, Context{}))
	assert.Nil(t, Evaluate(MinMaxType{Min: 1, Max: 3}, []interface{}{"x"}, actual, Context{}))

	failure := Evaluate(MinType{Min: 3}, []interface{}{"x"}, actual, Context{})
	require.NotNil(t, failure)
	assert.Equal(t, `Expected ["a","b"] (size 2) to have minimum size of 3`, failure.Message)

	assert.NotNil(t, Evaluate(MaxType{Max: 1}, []interface{}{"x"}, actual, Context{}))
	assert.NotNil(t, Evaluate(MinMaxType{Min: 3, Max: 4}, []interface{}{"x"}, actual, Context{}))

	// inherited cardinality rules only check the type
	assert.Nil(t, Evaluate(MinType{Min: 3}, []interface{}{"x"}, actual, Context{Inherited: true}))
	assert.Nil(t, Evaluate(MinType{Min: 3}, "x", "y", Context{Inherited: true}))
	assert.NotNil(t, Evaluate(MinType{Min: 3}, "x", json.Number("1"), Context{Inherited: true}))
}

func TestEvaluateContainers(t *testing.T) {
	object := map[string]interface{}{"a": "b"}

	assert.Nil(t, Evaluate(Equality{}, map[string]interface{}{"a": "c"}, object, Context{}),
		"equality on containers only checks the kind")
	assert.NotNil(t, Evaluate(Equality{}, []interface{}{}, object, Context{}))

	assert.NotNil(t, Evaluate(MustRegex(".*"), nil, object, Context{}))
	assert.Nil(t, Evaluate(MustRegex(".*"), nil, object, Context{Inherited: true}),
		"scalar rules inherited from an ancestor are left for the leaves")
	assert.Nil(t, Evaluate(EachValue{Rules: Group(Type{})}, nil, object, Context{}))
}

func TestRuleGroupCombine(t *testing.T) {
	and := Group(Type{}, MustRegex("[a-z]+"))
	or := AnyOf(Integer{}, MustRegex("[a-z]+"))

	assert.Empty(t, and.Evaluate("x", "abc", Context{}))
	assert.Len(t, and.Evaluate("x", "ABC", Context{}), 1)
	assert.Len(t, and.Evaluate("x", json.Number("1"), Context{}), 2)

	assert.Empty(t, or.Evaluate(nil, "abc", Context{}))
	assert.Empty(t, or.Evaluate(nil, json.Number("4"), Context{}))
	assert.Len(t, or.Evaluate(nil, "ABC", Context{}), 2)

	assert.Equal(t, "type and regex '[a-z]+'", and.String())
	assert.Equal(t, "integer or regex '[a-z]+'", or.String())
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/json", DetectContentType([]byte(` {"a": [1, 2]}`)))
	assert.Equal(t, "application/json", DetectContentType([]byte(`[1]`)))
	assert.Equal(t, "application/xml", DetectContentType([]byte(`<?xml version="1.0"?><a/>`)))
	assert.Equal(t, "text/html", DetectContentType([]byte(`<html><body>hi</body></html>`)))
	assert.Equal(t, "text/plain", DetectContentType([]byte(`hello world`)))
}
