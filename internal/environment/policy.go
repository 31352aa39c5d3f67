package environment

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned by facade calls refused by the current
// frame's policy.
var ErrPermissionDenied = errors.New("permission denied")

// Permission names a guarded operation, for instance
// {Kind: "property", Name: "HTTP_PROXY", Action: "write"}.
type Permission struct {
	Kind   string
	Name   string
	Action string
}

func (p Permission) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Kind, p.Name, p.Action)
}

// Policy decides whether a permission is granted.
type Policy interface {
	Implies(p Permission) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(Permission) bool

func (f PolicyFunc) Implies(p Permission) bool { return f(p) }

var (
	AllowAll Policy = PolicyFunc(func(Permission) bool { return true })
	DenyAll  Policy = PolicyFunc(func(Permission) bool { return false })
)

// Grant implies exactly the listed permissions. An empty Name or Action in a
// granted permission matches any value; "*" does too.
func Grant(perms ...Permission) Policy {
	list := append([]Permission(nil), perms...)
	return PolicyFunc(func(p Permission) bool {
		for _, g := range list {
			if g.Kind != p.Kind {
				continue
			}
			if !wildcard(g.Name, p.Name) || !wildcard(g.Action, p.Action) {
				continue
			}
			return true
		}
		return false
	})
}

func wildcard(pattern, value string) bool {
	return pattern == "" || pattern == "*" || pattern == value
}

// chain is the effective policy of a frame: every deny captured from the
// ancestors wins, then the frame's own allow, then the inherited decision.
type chain struct {
	deny  []Policy
	allow Policy
	base  Policy
}

func (c *chain) Implies(p Permission) bool {
	for _, d := range c.deny {
		if d.Implies(p) {
			return false
		}
	}
	if c.allow != nil && c.allow.Implies(p) {
		return true
	}
	if c.base == nil {
		return false
	}
	return c.base.Implies(p)
}

// inherit derives a child's chain: same denies, inherited base decision.
func (c *chain) inherit() *chain {
	return &chain{deny: c.deny, base: c}
}

func (c *chain) withDeny(p Policy) *chain {
	deny := make([]Policy, 0, len(c.deny)+1)
	deny = append(deny, c.deny...)
	deny = append(deny, p)
	return &chain{deny: deny, allow: c.allow, base: c.base}
}

func (c *chain) withAllow(p Policy) *chain {
	return &chain{deny: c.deny, allow: p, base: c.base}
}
