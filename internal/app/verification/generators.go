package verification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/form3tech-oss/pact-verifier/internal/app/matching"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// generate produces a value for g. values holds the provider state parameters and the values
// returned by the state change calls.
func generate(g pact.Generator, values map[string]interface{}) (interface{}, error) {
	switch g.Type {
	case "RandomInt":
		min := intAttribute(g, "min", 0)
		max := intAttribute(g, "max", 2147483647)
		if max < min {
			return nil, errors.Errorf("RandomInt max %d is lower than min %d", max, min)
		}
		span := max - min + 1
		if span <= 0 {
			return nil, errors.Errorf("RandomInt range %d to %d is too large", min, max)
		}
		return json.Number(strconv.FormatInt(min+rand.Int63n(span), 10)), nil
	case "RandomDecimal":
		digits := intAttribute(g, "digits", 10)
		if digits < 2 {
			digits = 2
		}
		text := randomDigits(int(digits))
		point := 1 + rand.Intn(len(text)-1)
		return json.Number(text[:point] + "." + text[point:]), nil
	case "RandomHexadecimal":
		digits := intAttribute(g, "digits", 10)
		var b strings.Builder
		for i := int64(0); i < digits; i++ {
			b.WriteByte("0123456789abcdef"[rand.Intn(16)])
		}
		return b.String(), nil
	case "RandomString":
		size := intAttribute(g, "size", 20)
		var b strings.Builder
		for i := int64(0); i < size; i++ {
			b.WriteByte(alphanumeric[rand.Intn(len(alphanumeric))])
		}
		return b.String(), nil
	case "RandomBoolean":
		return rand.Intn(2) == 1, nil
	case "Uuid":
		return formatUUID(uuid.New(), stringAttribute(g, "format")), nil
	case "Date":
		return formatNow(stringAttribute(g, "format"), "2006-01-02")
	case "Time":
		return formatNow(stringAttribute(g, "format"), "15:04:05")
	case "DateTime":
		return formatNow(stringAttribute(g, "format"), time.RFC3339)
	case "ProviderState":
		return fromProviderState(stringAttribute(g, "expression"), values)
	}
	return nil, errors.Errorf("generator type '%s' is not supported", g.Type)
}

func intAttribute(g pact.Generator, name string, def int64) int64 {
	switch v := g.Attributes[name].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return def
}

func stringAttribute(g pact.Generator, name string) string {
	s, _ := g.Attributes[name].(string)
	return s
}

func randomDigits(n int) string {
	var b strings.Builder
	b.WriteByte("123456789"[rand.Intn(9)])
	for i := 1; i < n; i++ {
		b.WriteByte("0123456789"[rand.Intn(10)])
	}
	return b.String()
}

func formatUUID(id uuid.UUID, format string) string {
	switch format {
	case "simple":
		return strings.ReplaceAll(id.String(), "-", "")
	case "upper-case-hyphenated":
		return strings.ToUpper(id.String())
	case "URN":
		return id.URN()
	}
	return id.String()
}

func formatNow(format, def string) (interface{}, error) {
	layout := def
	if format != "" {
		l, err := matchers.GoLayout(format)
		if err != nil {
			return nil, err
		}
		layout = l
	}
	return time.Now().Format(layout), nil
}

// fromProviderState evaluates an expression such as `${id}` or `/users/${id}/orders`. An
// expression made of a single placeholder keeps the type of the value it refers to.
func fromProviderState(expression string, values map[string]interface{}) (interface{}, error) {
	if expression == "" {
		return nil, errors.New("ProviderState generator has no expression")
	}
	if m := placeholder.FindStringSubmatch(expression); m != nil && m[0] == expression {
		return lookup(m[1], values)
	}

	var err error
	result := placeholder.ReplaceAllStringFunc(expression, func(token string) string {
		v, lookupErr := lookup(placeholder.FindStringSubmatch(token)[1], values)
		if lookupErr != nil {
			err = lookupErr
			return token
		}
		return matchers.Text(v)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func lookup(name string, values map[string]interface{}) (interface{}, error) {
	v, err := jsonpath.Get("$."+strings.TrimSpace(name), values)
	if err != nil {
		return nil, errors.Wrapf(err, "no provider state value for '%s'", name)
	}
	return v, nil
}

// applyGenerators replaces the generated parts of req. Generators are applied in a stable order
// so the request is reproducible for a given set of values.
func applyGenerators(req *matching.Request, generators pact.Generators, values map[string]interface{}) error {
	if g, ok := generators.Get("path")[""]; ok {
		v, err := generate(g, values)
		if err != nil {
			return errors.Wrap(err, "path generator")
		}
		req.Path = matchers.Text(v)
	}

	headers := generators.Get("header")
	for _, name := range sortedGeneratorKeys(headers) {
		v, err := generate(headers[name], values)
		if err != nil {
			return errors.Wrapf(err, "header generator '%s'", name)
		}
		req.Headers.Set(name, matchers.Text(v))
	}

	query := generators.Get("query")
	for _, name := range sortedGeneratorKeys(query) {
		v, err := generate(query[name], values)
		if err != nil {
			return errors.Wrapf(err, "query generator '%s'", name)
		}
		count := len(req.Query[name])
		if count == 0 {
			count = 1
		}
		generated := make([]string, count)
		for i := range generated {
			generated[i] = matchers.Text(v)
		}
		req.Query[name] = generated
	}

	body := generators.Get("body")
	for _, key := range sortedGeneratorKeys(body) {
		if err := applyBodyGenerator(req, key, body[key], values); err != nil {
			return errors.Wrapf(err, "body generator '%s'", key)
		}
	}
	return nil
}

func sortedGeneratorKeys(m map[string]pact.Generator) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyBodyGenerator(req *matching.Request, key string, g pact.Generator, values map[string]interface{}) error {
	path, err := pactpath.Parse(key)
	if err != nil {
		path, err = pactpath.Parse("$." + key)
		if err != nil {
			return err
		}
	}

	v, err := generate(g, values)
	if err != nil {
		return err
	}

	if !pact.IsJSONMediaType(mediaTypeOf(req)) {
		if path.IsRoot() {
			req.Body = []byte(matchers.Text(v))
			return nil
		}
		log.Warnf("ignoring body generator '%s', the body is not JSON", key)
		return nil
	}

	if path.IsRoot() {
		req.Body, err = json.Marshal(v)
		return err
	}

	d := json.NewDecoder(bytes.NewReader(req.Body))
	d.UseNumber()
	var doc interface{}
	if err := d.Decode(&doc); err != nil {
		return errors.Wrap(err, "request body is not valid JSON")
	}

	for _, target := range expand(path, doc) {
		req.Body, err = sjson.SetBytes(req.Body, sjsonPath(target), v)
		if err != nil {
			return err
		}
	}
	return nil
}

func mediaTypeOf(req *matching.Request) string {
	contentType := req.Headers.Get("Content-Type")
	if contentType == "" {
		return matchers.DetectContentType(req.Body)
	}
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}

// expand returns the concrete paths of doc that path addresses. Paths to missing nodes are not
// returned.
func expand(path pactpath.Expression, doc interface{}) []pactpath.Expression {
	type node struct {
		value interface{}
		path  pactpath.Expression
	}
	current := []node{{value: doc, path: pactpath.Root()}}
	for _, s := range path.Segments()[1:] {
		var next []node
		for _, n := range current {
			switch v := n.value.(type) {
			case map[string]interface{}:
				switch s.Kind {
				case pactpath.FieldSegment:
					if child, ok := v[s.Name]; ok {
						next = append(next, node{value: child, path: n.path.Field(s.Name)})
					}
				case pactpath.WildcardSegment:
					keys := make([]string, 0, len(v))
					for k := range v {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						next = append(next, node{value: v[k], path: n.path.Field(k)})
					}
				}
			case []interface{}:
				switch s.Kind {
				case pactpath.IndexSegment:
					if s.Index >= 0 && s.Index < len(v) {
						next = append(next, node{value: v[s.Index], path: n.path.Index(s.Index)})
					}
				case pactpath.WildcardSegment:
					for i, child := range v {
						next = append(next, node{value: child, path: n.path.Index(i)})
					}
				}
			}
		}
		current = next
	}

	paths := make([]pactpath.Expression, len(current))
	for i, n := range current {
		paths[i] = n.path
	}
	return paths
}

var sjsonSpecial = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`, ":", `\:`)

// sjsonPath renders a concrete path in the dotted syntax sjson expects.
func sjsonPath(path pactpath.Expression) string {
	var parts []string
	for _, s := range path.Segments()[1:] {
		switch s.Kind {
		case pactpath.FieldSegment:
			parts = append(parts, sjsonSpecial.Replace(s.Name))
		case pactpath.IndexSegment:
			parts = append(parts, fmt.Sprint(s.Index))
		}
	}
	return strings.Join(parts, ".")
}
