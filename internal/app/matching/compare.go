package matching

import (
	"fmt"
	"sort"

	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
)

// Options select the version dependent behaviour of a comparison.
type Options struct {
	// SpecVersion is the major pact specification version. Zero means 3.
	SpecVersion int
	Scope       matchers.Scope
}

// strictArrays reports whether arrays without rules must have exactly the expected length.
// V3 and later only require the expected elements to be present.
func (o Options) strictArrays() bool {
	return o.SpecVersion > 0 && o.SpecVersion < 3
}

type node struct {
	expected interface{}
	actual   interface{}
	path     pactpath.Expression
	missing  bool
}

// Compare walks expected and actual from path and returns every mismatch in tree pre-order.
// Object members are visited in key order. Nodes are processed from an explicit stack so deeply
// nested documents do not grow the goroutine stack.
func Compare(expected, actual interface{}, path pactpath.Expression, rules *matchers.RuleSet, opts Options) []Mismatch {
	var mismatches []Mismatch
	stack := []node{{expected: expected, actual: actual, path: path}}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.missing {
			mismatches = append(mismatches, Mismatch{
				Kind:     MissingKeyMismatch,
				Path:     n.path,
				Expected: matchers.Describe(n.expected),
				Message:  fmt.Sprintf("Expected %s to be present at %s but was missing", matchers.Describe(n.expected), n.path),
			})
			continue
		}

		found, children := compareNode(n, rules, opts)
		mismatches = append(mismatches, found...)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return mismatches
}

// compareNode checks a single node and returns the children still to be compared, in order.
func compareNode(n node, rules *matchers.RuleSet, opts Options) ([]Mismatch, []node) {
	resolution, hasRule := rules.Resolve(n.path)
	if !hasRule || resolution.Group.OnlyEquality() {
		return compareWithoutRules(n, opts)
	}

	ctx := matchers.Context{Scope: opts.Scope, Inherited: !resolution.Own}
	structural, values := splitStructural(resolution.Group, resolution.Own)

	var mismatches []Mismatch
	for _, f := range values.Evaluate(n.expected, n.actual, ctx) {
		kind := RuleMismatch
		if matchers.IsCardinality(f.Rule) && matchers.TypeOf(n.actual) == matchers.ArrayType {
			kind = LengthMismatch
		}
		mismatches = append(mismatches, fromFailure(f, n.path, n.expected, n.actual, kind))
	}

	et, at := matchers.TypeOf(n.expected), matchers.TypeOf(n.actual)
	if !matchers.IsContainer(n.expected) {
		if matchers.IsContainer(n.actual) && len(mismatches) == 0 && ctx.Inherited {
			mismatches = append(mismatches, typeMismatch(n))
		}
		return mismatches, nil
	}
	if et != at {
		if len(mismatches) == 0 {
			mismatches = append(mismatches, typeMismatch(n))
		}
		return mismatches, nil
	}

	switch et {
	case matchers.ObjectType:
		found, children := compareObjectWithRules(n, structural, ctx)
		return append(mismatches, found...), children
	case matchers.ArrayType:
		found, children := compareArrayWithRules(n, structural, opts)
		return append(mismatches, found...), children
	}
	return mismatches, nil
}

// splitStructural separates the rules applied while walking a container from the rules evaluated
// on the node value. Structural rules only apply at their own node.
func splitStructural(group matchers.RuleGroup, own bool) ([]matchers.Rule, matchers.RuleGroup) {
	var structural []matchers.Rule
	values := matchers.RuleGroup{Combine: group.Combine}
	for _, r := range group.Rules {
		switch r.(type) {
		case matchers.EachKey, matchers.EachValue, matchers.ArrayContains:
			if own {
				structural = append(structural, r)
			}
		default:
			values.Rules = append(values.Rules, r)
		}
	}
	return structural, values
}

func compareWithoutRules(n node, opts Options) ([]Mismatch, []node) {
	et, at := matchers.TypeOf(n.expected), matchers.TypeOf(n.actual)
	if et != at && (matchers.IsContainer(n.expected) || matchers.IsContainer(n.actual)) {
		return []Mismatch{typeMismatch(n)}, nil
	}

	switch et {
	case matchers.ObjectType:
		return nil, objectChildren(n, true)
	case matchers.ArrayType:
		return compareArrayWithoutRules(n, opts)
	}

	if !matchers.Equal(n.expected, n.actual) {
		return []Mismatch{{
			Kind:     TypeOrValueMismatch,
			Path:     n.path,
			Expected: matchers.Describe(n.expected),
			Actual:   matchers.Describe(n.actual),
			Message:  fmt.Sprintf("Expected %s (%s) but received %s (%s)", matchers.Describe(n.expected), et, matchers.Describe(n.actual), at),
		}}, nil
	}
	return nil, nil
}

func typeMismatch(n node) Mismatch {
	et, at := matchers.TypeOf(n.expected), matchers.TypeOf(n.actual)
	return Mismatch{
		Kind:     TypeOrValueMismatch,
		Path:     n.path,
		Expected: matchers.Describe(n.expected),
		Actual:   matchers.Describe(n.actual),
		Message:  fmt.Sprintf("Type mismatch: Expected %s %s but received %s %s", et, matchers.Describe(n.expected), at, matchers.Describe(n.actual)),
	}
}

// objectChildren returns a child per expected key. Keys missing from actual become missing nodes
// when reportMissing is set.
func objectChildren(n node, reportMissing bool) []node {
	expected := n.expected.(map[string]interface{})
	actual := n.actual.(map[string]interface{})

	var children []node
	for _, k := range sortedKeys(expected) {
		value, ok := actual[k]
		if !ok {
			if reportMissing {
				children = append(children, node{expected: expected[k], path: n.path.Field(k), missing: true})
			}
			continue
		}
		children = append(children, node{expected: expected[k], actual: value, path: n.path.Field(k)})
	}
	return children
}

func compareObjectWithRules(n node, structural []matchers.Rule, ctx matchers.Context) ([]Mismatch, []node) {
	expected := n.expected.(map[string]interface{})
	actual := n.actual.(map[string]interface{})

	var eachKey, eachValue []matchers.RuleGroup
	for _, r := range structural {
		switch rule := r.(type) {
		case matchers.EachKey:
			eachKey = append(eachKey, rule.Rules)
		case matchers.EachValue:
			eachValue = append(eachValue, rule.Rules)
		}
	}
	if len(eachKey) == 0 && len(eachValue) == 0 {
		return nil, objectChildren(n, true)
	}

	own := matchers.Context{Scope: ctx.Scope}
	var mismatches []Mismatch
	for _, k := range sortedKeys(actual) {
		for _, group := range eachKey {
			for _, f := range group.Evaluate(nil, k, matchers.Context{Scope: matchers.TextScope}) {
				mismatches = append(mismatches, fromFailure(f, n.path.Field(k), nil, k, RuleMismatch))
			}
		}
	}

	// expected keys are examples once the members are described by rules
	template := firstValue(expected)
	var children []node
	for _, k := range sortedKeys(actual) {
		want, ok := expected[k]
		if !ok {
			want = template
		}
		for _, group := range eachValue {
			for _, f := range group.Evaluate(want, actual[k], own) {
				mismatches = append(mismatches, fromFailure(f, n.path.Field(k), want, actual[k], RuleMismatch))
			}
		}
		if ok || (len(eachValue) > 0 && matchers.IsContainer(want)) {
			children = append(children, node{expected: want, actual: actual[k], path: n.path.Field(k)})
		}
	}
	return mismatches, children
}

func compareArrayWithRules(n node, structural []matchers.Rule, opts Options) ([]Mismatch, []node) {
	expected := n.expected.([]interface{})
	actual := n.actual.([]interface{})

	for _, r := range structural {
		if contains, ok := r.(matchers.ArrayContains); ok {
			return arrayContains(n, expected, actual, contains, opts), nil
		}
	}

	if len(expected) == 0 {
		return nil, nil
	}
	children := make([]node, 0, len(actual))
	for i, value := range actual {
		want := expected[0]
		if i < len(expected) {
			want = expected[i]
		}
		children = append(children, node{expected: want, actual: value, path: n.path.Index(i)})
	}
	return nil, children
}

func arrayContains(n node, expected, actual []interface{}, rule matchers.ArrayContains, opts Options) []Mismatch {
	var mismatches []Mismatch
	for _, variant := range rule.Variants {
		if variant.Index < 0 || variant.Index >= len(expected) {
			mismatches = append(mismatches, Mismatch{
				Kind:    RuleMismatch,
				Path:    n.path,
				Message: fmt.Sprintf("Variant at index %d is not present in the expected list", variant.Index),
				Rule:    rule.Kind(),
			})
			continue
		}

		want := expected[variant.Index]
		found := false
		for _, candidate := range actual {
			if len(Compare(want, candidate, pactpath.Root(), variant.Rules, opts)) == 0 {
				found = true
				break
			}
		}
		if !found {
			mismatches = append(mismatches, Mismatch{
				Kind:     RuleMismatch,
				Path:     n.path,
				Expected: matchers.Describe(want),
				Actual:   matchers.Describe(actual),
				Message:  fmt.Sprintf("Variant at index %d (%s) was not found in the actual list", variant.Index, matchers.Describe(want)),
				Rule:     rule.Kind(),
			})
		}
	}
	return mismatches
}

func compareArrayWithoutRules(n node, opts Options) ([]Mismatch, []node) {
	expected := n.expected.([]interface{})
	actual := n.actual.([]interface{})

	var mismatches []Mismatch
	if (opts.strictArrays() && len(actual) != len(expected)) || len(actual) < len(expected) {
		mismatches = append(mismatches, Mismatch{
			Kind:     LengthMismatch,
			Path:     n.path,
			Expected: matchers.Describe(expected),
			Actual:   matchers.Describe(actual),
			Message:  fmt.Sprintf("Expected a List with %d elements but received %d elements", len(expected), len(actual)),
		})
	}

	count := len(expected)
	if len(actual) < count {
		count = len(actual)
	}
	children := make([]node, 0, count)
	for i := 0; i < count; i++ {
		children = append(children, node{expected: expected[i], actual: actual[i], path: n.path.Index(i)})
	}
	return mismatches, children
}

func firstValue(m map[string]interface{}) interface{} {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return nil
	}
	return m[keys[0]]
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
