package matchers

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
	"github.com/pkg/errors"
)

// ParseRule decodes one matcher definition. Both the "match" discriminated form and the legacy
// V2 forms ({"regex": "..."}, {"min": 1}) are accepted.
func ParseRule(definition map[string]interface{}) (Rule, error) {
	kind, _ := definition["match"].(string)
	if kind == "" {
		return parseLegacyRule(definition)
	}

	switch Kind(kind) {
	case KindEquality:
		return Equality{}, nil
	case KindType, KindMinType, KindMaxType, KindMinMaxType:
		return parseTypeRule(definition)
	case KindRegex:
		pattern, ok := definition["regex"].(string)
		if !ok {
			return nil, errors.New("regex matcher requires a 'regex' string")
		}
		r, err := NewRegex(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid regex '%s'", pattern)
		}
		return r, nil
	case KindTimestamp, "datetime":
		return Timestamp{Format: stringField(definition, "timestamp", "format", "datetime")}, nil
	case KindDate:
		return Date{Format: stringField(definition, "date", "format")}, nil
	case KindTime:
		return Time{Format: stringField(definition, "time", "format")}, nil
	case KindInclude:
		value, ok := definition["value"]
		if !ok {
			return nil, errors.New("include matcher requires a 'value'")
		}
		return Include{Value: Text(value)}, nil
	case KindInteger:
		return Integer{}, nil
	case KindDecimal:
		return Decimal{}, nil
	case KindNumber:
		return Number{}, nil
	case KindNull:
		return Null{}, nil
	case KindBoolean:
		return Boolean{}, nil
	case KindContentType:
		mimeType := stringField(definition, "value", "contentType")
		if mimeType == "" {
			return nil, errors.New("contentType matcher requires a 'value'")
		}
		return ContentType{MimeType: mimeType}, nil
	case KindEachKey:
		group, err := parseNestedRules(definition)
		if err != nil {
			return nil, errors.Wrap(err, "eachKey")
		}
		return EachKey{Rules: group}, nil
	case KindEachValue:
		group, err := parseNestedRules(definition)
		if err != nil {
			return nil, errors.Wrap(err, "eachValue")
		}
		return EachValue{Rules: group}, nil
	case "values":
		return EachValue{Rules: Group(Type{})}, nil
	case KindArrayContains:
		return parseArrayContains(definition)
	case KindStatusCode:
		return parseStatusCode(definition)
	}
	return nil, errors.Errorf("unknown matcher '%s'", kind)
}

func parseLegacyRule(definition map[string]interface{}) (Rule, error) {
	if pattern, ok := definition["regex"].(string); ok {
		r, err := NewRegex(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid regex '%s'", pattern)
		}
		return r, nil
	}
	if format, ok := definition["timestamp"].(string); ok {
		return Timestamp{Format: format}, nil
	}
	if format, ok := definition["date"].(string); ok {
		return Date{Format: format}, nil
	}
	if format, ok := definition["time"].(string); ok {
		return Time{Format: format}, nil
	}
	_, hasMin := definition["min"]
	_, hasMax := definition["max"]
	if hasMin || hasMax {
		return parseTypeRule(definition)
	}
	return nil, errors.Errorf("unrecognised matcher definition %v", definition)
}

// parseTypeRule derives the cardinality variant from the min/max fields present, whatever the
// declared kind says.
func parseTypeRule(definition map[string]interface{}) (Rule, error) {
	min, hasMin, err := intField(definition, "min")
	if err != nil {
		return nil, err
	}
	max, hasMax, err := intField(definition, "max")
	if err != nil {
		return nil, err
	}
	switch {
	case hasMin && hasMax:
		if min > max {
			return nil, errors.Errorf("min %d is greater than max %d", min, max)
		}
		return MinMaxType{Min: min, Max: max}, nil
	case hasMin:
		return MinType{Min: min}, nil
	case hasMax:
		return MaxType{Max: max}, nil
	}
	if kind, _ := definition["match"].(string); kind != "" && Kind(kind) != KindType {
		return nil, errors.Errorf("%s matcher requires a size", kind)
	}
	return Type{}, nil
}

func parseNestedRules(definition map[string]interface{}) (RuleGroup, error) {
	raw, ok := definition["rules"].([]interface{})
	if !ok {
		return RuleGroup{}, errors.New("requires a 'rules' list")
	}
	group := RuleGroup{Combine: And}
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return RuleGroup{}, errors.Errorf("rule %d is not an object", i)
		}
		r, err := ParseRule(m)
		if err != nil {
			return RuleGroup{}, errors.Wrapf(err, "rule %d", i)
		}
		group.Rules = append(group.Rules, r)
	}
	return group, nil
}

func parseArrayContains(definition map[string]interface{}) (Rule, error) {
	raw, ok := definition["variants"].([]interface{})
	if !ok {
		return nil, errors.New("arrayContains matcher requires a 'variants' list")
	}
	rule := ArrayContains{}
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("variant %d is not an object", i)
		}
		index, hasIndex, err := intField(m, "index")
		if err != nil {
			return nil, errors.Wrapf(err, "variant %d", i)
		}
		if !hasIndex {
			index = i
		}
		set := NewRuleSet()
		if rules, ok := m["rules"].(map[string]interface{}); ok {
			if err := parsePathRules(set, rules, nil); err != nil {
				return nil, errors.Wrapf(err, "variant %d", i)
			}
		}
		rule.Variants = append(rule.Variants, Variant{Index: index, Rules: set})
	}
	return rule, nil
}

func parseStatusCode(definition map[string]interface{}) (Rule, error) {
	switch status := definition["status"].(type) {
	case string:
		if _, ok := statusClasses[status]; !ok {
			return nil, errors.Errorf("unknown status code class '%s'", status)
		}
		return StatusCode{Class: status}, nil
	case []interface{}:
		rule := StatusCode{}
		for _, item := range status {
			f, ok := Float(item)
			if !ok {
				return nil, errors.Errorf("status code %v is not a number", item)
			}
			rule.Codes = append(rule.Codes, int(f))
		}
		return rule, nil
	}
	return nil, errors.New("statusCode matcher requires a 'status' class or list")
}

// ParseRuleGroup decodes {"matchers": [...], "combine": "AND"}. A bare matcher definition is
// accepted as a single rule group.
func ParseRuleGroup(definition map[string]interface{}) (RuleGroup, error) {
	raw, ok := definition["matchers"]
	if !ok {
		r, err := ParseRule(definition)
		if err != nil {
			return RuleGroup{}, err
		}
		return Group(r), nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return RuleGroup{}, errors.New("'matchers' must be a list")
	}
	group := RuleGroup{Combine: And}
	if combine, ok := definition["combine"].(string); ok {
		switch Combine(strings.ToUpper(combine)) {
		case And:
		case Or:
			group.Combine = Or
		default:
			return RuleGroup{}, errors.Errorf("unknown combine '%s'", combine)
		}
	}
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return RuleGroup{}, errors.Errorf("matcher %d is not an object", i)
		}
		r, err := ParseRule(m)
		if err != nil {
			return RuleGroup{}, errors.Wrapf(err, "matcher %d", i)
		}
		group.Rules = append(group.Rules, r)
	}
	return group, nil
}

// ParseV2 decodes the flat matchingRules map of V1/V2 pacts, whose keys embed the category:
// "$.body.items[*].id", "$.headers.Accept", "$.query.page", "$.path".
func ParseV2(raw map[string]interface{}) (MatchingRules, error) {
	rules := MatchingRules{}
	for _, key := range sortedKeys(raw) {
		definition, ok := raw[key].(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("matching rule '%s' is not an object", key)
		}
		path, err := pactpath.Parse(key)
		if err != nil {
			return nil, err
		}
		group, err := ParseRuleGroup(definition)
		if err != nil {
			return nil, errors.Wrapf(err, "matching rule '%s'", key)
		}

		segments := path.Segments()
		if len(segments) < 2 || segments[1].Kind != pactpath.FieldSegment {
			return nil, errors.Errorf("matching rule '%s' does not name a request or response part", key)
		}
		rest := pactpath.Root()
		for _, s := range segments[2:] {
			rest = rest.Append(s)
		}

		switch segments[1].Name {
		case "body":
			rules.Add(CategoryBody, rest, group)
		case "header", "headers":
			name, err := flatName(key, segments[2:])
			if err != nil {
				return nil, err
			}
			rules.Add(CategoryHeader, HeaderPath(name), group)
		case "query":
			name, err := flatName(key, segments[2:])
			if err != nil {
				return nil, err
			}
			rules.Add(CategoryQuery, ParameterPath(name), group)
		case "path":
			rules.Add(CategoryPath, pactpath.Root(), group)
		case "status":
			rules.Add(CategoryStatus, pactpath.Root(), group)
		default:
			return nil, errors.Errorf("matching rule '%s' has unknown category '%s'", key, segments[1].Name)
		}
	}
	return rules, nil
}

func flatName(key string, segments []pactpath.Segment) (string, error) {
	if len(segments) < 1 || segments[0].Kind != pactpath.FieldSegment {
		return "", errors.Errorf("matching rule '%s' does not name a header or parameter", key)
	}
	return segments[0].Name, nil
}

// ParseV3 decodes the per-category matchingRules map of V3 and V4 pacts.
func ParseV3(raw map[string]interface{}) (MatchingRules, error) {
	rules := MatchingRules{}
	for _, name := range sortedKeys(raw) {
		section, ok := raw[name].(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("matching rules for '%s' are not an object", name)
		}

		switch name {
		case "body":
			set := NewRuleSet()
			if err := parsePathRules(set, section, nil); err != nil {
				return nil, errors.Wrap(err, "body")
			}
			if !set.IsEmpty() {
				rules[CategoryBody] = set
			}
		case "header", "headers":
			if err := parseNamedRules(rules, CategoryHeader, section, HeaderPath); err != nil {
				return nil, errors.Wrap(err, "header")
			}
		case "query":
			if err := parseNamedRules(rules, CategoryQuery, section, ParameterPath); err != nil {
				return nil, errors.Wrap(err, "query")
			}
		case "path", "status":
			group, err := ParseRuleGroup(section)
			if err != nil {
				return nil, errors.Wrap(err, name)
			}
			rules.Add(Category(name), pactpath.Root(), group)
		case "metadata", "content":
			// message pact sections, not used for HTTP interactions
		default:
			return nil, errors.Errorf("unknown matching rule category '%s'", name)
		}
	}
	return rules, nil
}

// parsePathRules adds every "$.path": group entry of raw to set. prefix rebases the keys.
func parsePathRules(set *RuleSet, raw map[string]interface{}, prefix *pactpath.Expression) error {
	for _, key := range sortedKeys(raw) {
		definition, ok := raw[key].(map[string]interface{})
		if !ok {
			return errors.Errorf("matching rule '%s' is not an object", key)
		}
		path, err := pactpath.Parse(key)
		if err != nil {
			return err
		}
		if prefix != nil {
			path = prefix.Join(path)
		}
		group, err := ParseRuleGroup(definition)
		if err != nil {
			return errors.Wrapf(err, "matching rule '%s'", key)
		}
		set.Add(path, group)
	}
	return nil
}

// parseNamedRules handles header and query sections whose keys are plain names, or occasionally
// path expressions naming one field.
func parseNamedRules(rules MatchingRules, c Category, raw map[string]interface{}, keyFor func(string) pactpath.Expression) error {
	for _, key := range sortedKeys(raw) {
		definition, ok := raw[key].(map[string]interface{})
		if !ok {
			return errors.Errorf("matching rule '%s' is not an object", key)
		}
		name := key
		if strings.HasPrefix(key, "$") {
			path, err := pactpath.Parse(key)
			if err != nil {
				return err
			}
			if path.Len() < 2 || path.Last().Kind != pactpath.FieldSegment {
				return errors.Errorf("matching rule '%s' does not name a single field", key)
			}
			name = path.Last().Name
		}
		group, err := ParseRuleGroup(definition)
		if err != nil {
			return errors.Wrapf(err, "matching rule '%s'", key)
		}
		rules.Add(c, keyFor(name), group)
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringField(definition map[string]interface{}, names ...string) string {
	for _, name := range names {
		if s, ok := definition[name].(string); ok {
			return s
		}
	}
	return ""
}

func intField(definition map[string]interface{}, name string) (int, bool, error) {
	raw, ok := definition[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	var f float64
	switch v := raw.(type) {
	case string:
		n, err := json.Number(v).Float64()
		if err != nil {
			return 0, false, errors.Errorf("'%s' must be a number, got '%s'", name, v)
		}
		f = n
	default:
		n, ok := Float(raw)
		if !ok {
			return 0, false, errors.Errorf("'%s' must be a number, got %s", name, fmt.Sprint(raw))
		}
		f = n
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, false, errors.Errorf("'%s' must be a non-negative integer, got %v", name, raw)
	}
	return int(f), true, nil
}
