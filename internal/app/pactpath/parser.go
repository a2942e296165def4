package pactpath

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

type pathAST struct {
	Segments []*segmentAST `parser:"'$' @@*"`
}

type segmentAST struct {
	Field     *string       `parser:"  '.' @( Ident | '*' )"`
	Subscript *subscriptAST `parser:"| '[' @@ ']'"`
}

type subscriptAST struct {
	Wildcard bool    `parser:"  @'*'"`
	Key      *string `parser:"| @String"`
	Index    *string `parser:"| @Ident"`
}

var pathLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Ident", Pattern: `[^$.\[\]'"*\s]+`},
	{Name: "Punct", Pattern: `[$.\[\]*]`},
})

var pathParser = participle.MustBuild[pathAST](
	participle.Lexer(pathLexer),
)

// Parse parses a path expression such as `$.items[0]['first name']`.
func Parse(expression string) (Expression, error) {
	if strings.TrimSpace(expression) == "" {
		return Expression{}, &ParseError{Expression: expression, Reason: "expression is empty"}
	}
	if !strings.HasPrefix(expression, "$") {
		return Expression{}, &ParseError{Expression: expression, Reason: "expression must start with '$'"}
	}

	ast, err := pathParser.ParseString("", expression)
	if err != nil {
		return Expression{}, &ParseError{Expression: expression, Reason: err.Error()}
	}

	result := Root()
	for _, s := range ast.Segments {
		switch {
		case s.Field != nil && *s.Field == "*":
			result = result.Wildcard()
		case s.Field != nil:
			result = result.Field(*s.Field)
		case s.Subscript.Wildcard:
			result = result.Wildcard()
		case s.Subscript.Key != nil:
			result = result.Field(unquote(*s.Subscript.Key))
		case s.Subscript.Index != nil:
			index, err := strconv.Atoi(*s.Subscript.Index)
			if err != nil || index < 0 {
				return Expression{}, &ParseError{
					Expression: expression,
					Reason:     "'" + *s.Subscript.Index + "' is not a valid array index",
				}
			}
			result = result.Index(index)
		}
	}
	return result, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(expression string) Expression {
	e, err := Parse(expression)
	if err != nil {
		panic(err)
	}
	return e
}

func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}
