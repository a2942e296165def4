package matchers

import (
	"testing"

	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMostSpecific(t *testing.T) {
	set := NewRuleSet()
	set.AddRule(pactpath.MustParse("$.a[*].b"), Type{})
	set.AddRule(pactpath.MustParse("$.a[1].b"), Integer{})
	set.AddRule(pactpath.MustParse("$.a"), MinType{Min: 1})

	tests := []struct {
		path string
		key  string
		own  bool
	}{
		{path: "$.a[1].b", key: "$.a[1].b", own: true},
		{path: "$.a[0].b", key: "$.a[*].b", own: true},
		{path: "$.a[7].b", key: "$.a[*].b", own: true},
		{path: "$.a", key: "$.a", own: true},
		{path: "$.a[0]", key: "$.a", own: false},
		{path: "$.a[1].b.c", key: "$.a[1].b", own: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resolution, ok := set.Resolve(pactpath.MustParse(tt.path))
			require.True(t, ok)
			assert.Equal(t, tt.key, resolution.Key.String())
			assert.Equal(t, tt.own, resolution.Own)
		})
	}

	_, ok := set.Resolve(pactpath.MustParse("$.z"))
	assert.False(t, ok)
	assert.False(t, set.Defined(pactpath.MustParse("$.z")))
}

func TestResolveIsIndependentOfInsertionOrder(t *testing.T) {
	keys := []string{"$.a.*", "$[*].b", "$.a.b.c"}
	first := NewRuleSet()
	for _, k := range keys {
		first.AddRule(pactpath.MustParse(k), Type{})
	}
	second := NewRuleSet()
	for i := len(keys) - 1; i >= 0; i-- {
		second.AddRule(pactpath.MustParse(keys[i]), Type{})
	}

	path := pactpath.MustParse("$.a.b")
	r1, ok := first.Resolve(path)
	require.True(t, ok)
	r2, ok := second.Resolve(path)
	require.True(t, ok)
	assert.Equal(t, r1.Key.String(), r2.Key.String())
	assert.Equal(t, "$.a[*]", r1.Key.String())
}

func TestRuleSetAdd(t *testing.T) {
	set := NewRuleSet()
	set.AddRule(pactpath.MustParse("$.a"), Type{})
	set.AddRule(pactpath.MustParse("$.a"), Integer{})
	set.Add(pactpath.MustParse("$.b"), RuleGroup{Rules: []Rule{Null{}}})

	group, ok := set.Get(pactpath.MustParse("$.a"))
	require.True(t, ok)
	assert.Equal(t, Group(Type{}, Integer{}), group)

	group, ok = set.Get(pactpath.MustParse("$.b"))
	require.True(t, ok)
	assert.Equal(t, And, group.Combine)

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "$.a", set.Keys()[0].String())
}

func TestNilRuleSet(t *testing.T) {
	var set *RuleSet
	assert.True(t, set.IsEmpty())
	assert.Nil(t, set.Keys())
	_, ok := set.Resolve(pactpath.Root())
	assert.False(t, ok)

	var rules MatchingRules
	assert.Nil(t, rules.Get(CategoryBody))
}
