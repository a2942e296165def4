package matchers

import (
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
)

// Combine decides how the rules of a group are folded together.
type Combine string

const (
	And Combine = "AND"
	Or  Combine = "OR"
)

// RuleGroup is the ordered list of rules registered for one path.
type RuleGroup struct {
	Rules   []Rule
	Combine Combine
}

// Group builds an AND group.
func Group(rules ...Rule) RuleGroup {
	return RuleGroup{Rules: rules, Combine: And}
}

// AnyOf builds an OR group.
func AnyOf(rules ...Rule) RuleGroup {
	return RuleGroup{Rules: rules, Combine: Or}
}

func (g RuleGroup) IsEmpty() bool {
	return len(g.Rules) == 0
}

// Evaluate checks actual against every rule. For AND groups one failure is returned per failing
// rule; OR groups stop at the first passing rule and otherwise return every failure.
func (g RuleGroup) Evaluate(expected, actual interface{}, ctx Context) []*Failure {
	var failures []*Failure
	for _, r := range g.Rules {
		failure := Evaluate(r, expected, actual, ctx)
		if failure == nil {
			if g.Combine == Or {
				return nil
			}
			continue
		}
		failures = append(failures, failure)
	}
	return failures
}

// OnlyEquality reports whether every rule of the group is an equality rule.
func (g RuleGroup) OnlyEquality() bool {
	for _, r := range g.Rules {
		if _, ok := r.(Equality); !ok {
			return false
		}
	}
	return true
}

// Find returns the first rule of the group satisfying match.
func (g RuleGroup) Find(match func(Rule) bool) (Rule, bool) {
	for _, r := range g.Rules {
		if match(r) {
			return r, true
		}
	}
	return nil, false
}

func (g RuleGroup) String() string {
	parts := make([]string, len(g.Rules))
	for i, r := range g.Rules {
		parts[i] = r.String()
	}
	sep := " and "
	if g.Combine == Or {
		sep = " or "
	}
	return strings.Join(parts, sep)
}

// RuleSet maps path expressions to rule groups. A nil *RuleSet is a valid empty set.
type RuleSet struct {
	keys   []pactpath.Expression
	groups map[string]RuleGroup
}

func NewRuleSet() *RuleSet {
	return &RuleSet{groups: map[string]RuleGroup{}}
}

// Add registers group at path. Rules added twice for the same path are appended to the existing group.
func (s *RuleSet) Add(path pactpath.Expression, group RuleGroup) {
	if group.Combine == "" {
		group.Combine = And
	}
	key := path.String()
	existing, ok := s.groups[key]
	if !ok {
		s.keys = append(s.keys, path)
		s.groups[key] = group
		return
	}
	existing.Rules = append(append([]Rule(nil), existing.Rules...), group.Rules...)
	s.groups[key] = existing
}

// AddRule registers rules at path as an AND group.
func (s *RuleSet) AddRule(path pactpath.Expression, rules ...Rule) {
	s.Add(path, Group(rules...))
}

func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

func (s *RuleSet) IsEmpty() bool {
	return s.Len() == 0
}

// Keys returns the registered paths sorted by their rendering.
func (s *RuleSet) Keys() []pactpath.Expression {
	if s == nil {
		return nil
	}
	keys := append([]pactpath.Expression(nil), s.keys...)
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Get returns the group registered for exactly path.
func (s *RuleSet) Get(path pactpath.Expression) (RuleGroup, bool) {
	if s == nil {
		return RuleGroup{}, false
	}
	g, ok := s.groups[path.String()]
	return g, ok
}

// Resolution is the rule group selected for a concrete path.
type Resolution struct {
	Key   pactpath.Expression
	Group RuleGroup
	// Own is set when Key has the same depth as the resolved path, as opposed to a group
	// inherited from an ancestor.
	Own bool
}

// Resolve selects the most specific group whose key addresses path or one of its ancestors.
// Keys with more literal segments win; on a tie the longer key wins, then the lexically smaller
// rendering so resolution never depends on insertion order.
func (s *RuleSet) Resolve(path pactpath.Expression) (Resolution, bool) {
	if s == nil {
		return Resolution{}, false
	}

	var best *pactpath.Expression
	for i := range s.keys {
		key := s.keys[i]
		if !key.MatchesPrefix(path) {
			continue
		}
		if best == nil {
			best = &s.keys[i]
			continue
		}
		c := pactpath.Compare(key, *best)
		if c > 0 || (c == 0 && key.String() < best.String()) {
			best = &s.keys[i]
		}
	}
	if best == nil {
		return Resolution{}, false
	}
	return Resolution{
		Key:   *best,
		Group: s.groups[best.String()],
		Own:   best.Len() == path.Len(),
	}, true
}

// Defined reports whether any rule applies to path or is inherited by it.
func (s *RuleSet) Defined(path pactpath.Expression) bool {
	_, ok := s.Resolve(path)
	return ok
}

// Category names the part of a request or response a rule set applies to.
type Category string

const (
	CategoryBody   Category = "body"
	CategoryHeader Category = "header"
	CategoryQuery  Category = "query"
	CategoryPath   Category = "path"
	CategoryStatus Category = "status"
)

// MatchingRules holds one rule set per category. Header rule keys are stored lower-cased.
type MatchingRules map[Category]*RuleSet

// Get returns the rule set of c, or nil when there is none.
func (m MatchingRules) Get(c Category) *RuleSet {
	if m == nil {
		return nil
	}
	return m[c]
}

// Add registers group under c at path, creating the category when needed.
func (m MatchingRules) Add(c Category, path pactpath.Expression, group RuleGroup) {
	set, ok := m[c]
	if !ok {
		set = NewRuleSet()
		m[c] = set
	}
	set.Add(path, group)
}

// HeaderPath returns the rule key used for header name.
func HeaderPath(name string) pactpath.Expression {
	return pactpath.Root().Field(strings.ToLower(name))
}

// ParameterPath returns the rule key used for a query parameter.
func ParameterPath(name string) pactpath.Expression {
	return pactpath.Root().Field(name)
}
