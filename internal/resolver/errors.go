package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSymbolNotFound is matched by every *SymbolNotFoundError.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrShape is returned when a node's dependencies do not mirror its configuration.
	ErrShape = errors.New("dependency nodes do not match configuration")
)

// Reason explains why a lookup failed.
type Reason string

const (
	// ReasonNoRoute means no rule of the router matched the name.
	ReasonNoRoute Reason = "no-route"
	// ReasonNotAttached means a routed delegate has not been realized.
	ReasonNotAttached Reason = "not-attached"
	// ReasonTargetRemoved means the name routed to delegates that do not hold it.
	ReasonTargetRemoved Reason = "target-removed"
)

// SymbolNotFoundError is returned by failed lookups. Properties is a snapshot
// of the searching node's property bag.
type SymbolNotFoundError struct {
	Name       string
	Kind       Kind
	Reason     Reason
	Properties map[string]string
}

func (e *SymbolNotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q not found (%s)", e.Kind, e.Name, e.Reason)
	if len(e.Properties) > 0 {
		keys := make([]string, 0, len(e.Properties))
		for k := range e.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Properties[k])
		}
		b.WriteString("]")
	}
	return b.String()
}

func (e *SymbolNotFoundError) Is(target error) bool { return target == ErrSymbolNotFound }
