// Package router maps symbol names to routing indexes.
//
// A routing index selects one of a configuration's delegation lists. Routers
// are immutable once built and are shared by every node realized from the
// same configuration.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Router maps a name to a routing index. ok is false when no rule matches.
type Router interface {
	Route(name string) (index int, ok bool)
}

// Rule pairs a glob pattern with the index it selects. An empty Pattern is a
// fallback that matches every name.
type Rule struct {
	Pattern string `json:"pattern,omitempty"`
	Index   int    `json:"index"`
}

type compiledRule struct {
	pattern string
	matcher glob.Glob
	index   int
}

// Rules evaluates patterns in declaration order; the first match wins.
type Rules struct {
	rules []compiledRule
}

// NewRules compiles rules. Patterns use glob syntax where '*' spans package
// separators, so "com.acme.*" matches "com.acme.Widget" and
// "com.acme.impl.Widget" alike.
func NewRules(rules ...Rule) (*Rules, error) {
	out := &Rules{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		cr := compiledRule{pattern: r.Pattern, index: r.Index}
		if r.Pattern != "" {
			g, err := glob.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: compile pattern %q: %w", i, r.Pattern, err)
			}
			cr.matcher = g
		}
		out.rules = append(out.rules, cr)
	}
	return out, nil
}

// MustRules is like NewRules but panics on an invalid pattern.
func MustRules(rules ...Rule) *Rules {
	r, err := NewRules(rules...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rules) Route(name string) (int, bool) {
	for _, rule := range r.rules {
		if rule.matcher == nil || rule.matcher.Match(name) {
			return rule.index, true
		}
	}
	return 0, false
}

// Rules returns a copy of the source rules.
func (r *Rules) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	for i, rule := range r.rules {
		out[i] = Rule{Pattern: rule.pattern, Index: rule.index}
	}
	return out
}

// Table is an exact-name router. It is what the compiler produces: every
// resource reachable from a configuration is listed with the index of its
// delegation list.
type Table struct {
	entries    map[string]int
	fallback   int
	hasDefault bool
}

// NewTable copies entries into a new table without a fallback.
func NewTable(entries map[string]int) *Table {
	t := &Table{entries: make(map[string]int, len(entries))}
	for k, v := range entries {
		t.entries[k] = v
	}
	return t
}

// WithDefault returns a copy of t that routes unknown names to index.
func (t *Table) WithDefault(index int) *Table {
	c := NewTable(t.entries)
	c.fallback = index
	c.hasDefault = true
	return c
}

func (t *Table) Route(name string) (int, bool) {
	if idx, ok := t.entries[name]; ok {
		return idx, true
	}
	if t.hasDefault {
		return t.fallback, true
	}
	return 0, false
}

// Len reports the number of exact entries.
func (t *Table) Len() int { return len(t.entries) }

// Names returns the routed names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for k := range t.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Entries returns a copy of the name to index table.
func (t *Table) Entries() map[string]int {
	out := make(map[string]int, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Fixed routes every name to the same index.
type Fixed int

func (f Fixed) Route(string) (int, bool) { return int(f), true }

type classes struct {
	resources Router
}

// Classes derives a class-name router from a resource router: a class name
// such as "a.b.C" is looked up as the resource "a/b/C.class". Fixed routers
// are returned unchanged since the name does not matter to them.
func Classes(resources Router) Router {
	if f, ok := resources.(Fixed); ok {
		return f
	}
	return classes{resources: resources}
}

func (c classes) Route(name string) (int, bool) {
	return c.resources.Route(ClassResource(name))
}

// ClassResource converts a class name to the resource name that holds it.
func ClassResource(name string) string {
	return strings.ReplaceAll(name, ".", "/") + ".class"
}
