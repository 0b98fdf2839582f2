// internal/varid/types.go
package varid

import (
	"fmt"
	"strings"
)

// Namespace distinguishes signals from datasets.
type Namespace int

const (
	// Signal is a named scalar or structured value.
	Signal Namespace = iota
	// Data is a named tabular dataset.
	Data
)

// String returns the canonical namespace name.
func (n Namespace) String() string {
	switch n {
	case Signal:
		return "signal"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("namespace(%d)", int(n))
	}
}

// ParseNamespace converts a canonical namespace name back into a Namespace.
func ParseNamespace(s string) (Namespace, error) {
	switch s {
	case "signal":
		return Signal, nil
	case "data":
		return Data, nil
	default:
		return 0, fmt.Errorf("unknown namespace %q: must be 'signal' or 'data'", s)
	}
}

// Variable identifies a named signal or dataset. It is not itself scoped.
type Variable struct {
	Namespace Namespace
	Name      string
}

// NewSignal creates a Variable in the signal namespace.
func NewSignal(name string) Variable {
	return Variable{Namespace: Signal, Name: name}
}

// NewData creates a Variable in the data namespace.
func NewData(name string) Variable {
	return Variable{Namespace: Data, Name: name}
}

// String serializes the Variable as `namespace.name`.
func (v Variable) String() string {
	return v.Namespace.String() + "." + v.Name
}

// Scope is the path of group-mark indices from the top level down to the
// group that owns a definition. The empty scope is the top level.
type Scope []int

// String renders the scope as a sequence of `[i]` segments.
func (s Scope) String() string {
	var sb strings.Builder
	for _, idx := range s {
		sb.WriteString(fmt.Sprintf("[%d]", idx))
	}
	return sb.String()
}

// Equal reports whether two scopes name the same path.
func (s Scope) Equal(other Scope) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Child returns a new scope one level deeper. The receiver is not modified.
func (s Scope) Child(index int) Scope {
	out := make(Scope, len(s), len(s)+1)
	copy(out, s)
	return append(out, index)
}

// Parent returns the enclosing scope. The parent of the top level is the
// top level.
func (s Scope) Parent() Scope {
	if len(s) == 0 {
		return Scope{}
	}
	return s[:len(s)-1 : len(s)-1]
}

// Clone returns an independent copy of the scope.
func (s Scope) Clone() Scope {
	out := make(Scope, len(s))
	copy(out, s)
	return out
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) s.
func (s Scope) HasPrefix(prefix Scope) bool {
	if len(prefix) > len(s) {
		return false
	}
	return Scope(s[:len(prefix)]).Equal(prefix)
}

// Scoped is one instantiation of a Variable inside a particular scope.
type Scoped struct {
	Variable
	Scope Scope
}

// NewScoped pairs a variable with a copy of the given scope.
func NewScoped(v Variable, scope Scope) Scoped {
	return Scoped{Variable: v, Scope: scope.Clone()}
}

// String serializes the scoped variable, e.g. `data.points[0][1]`.
func (s Scoped) String() string {
	return s.Variable.String() + s.Scope.String()
}

// Key returns a string suitable for use as a map key.
func (s Scoped) Key() string {
	return s.String()
}

// Equal checks whether two scoped variables refer to the same instantiation.
func (s Scoped) Equal(other Scoped) bool {
	return s.Variable == other.Variable && s.Scope.Equal(other.Scope)
}
