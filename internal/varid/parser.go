// internal/varid/parser.go
package varid

import (
	"fmt"
	"regexp"
	"strconv"
)

// scopedRegex splits `namespace.name[0][1]` into its namespace, name and
// trailing index segments.
var scopedRegex = regexp.MustCompile(`^([a-z]+)\.([^\[\]]+)((?:\[\d+\])*)$`)

var indexRegex = regexp.MustCompile(`\[(\d+)\]`)

// Parse creates a Scoped variable from its canonical string representation.
func Parse(raw string) (Scoped, error) {
	if raw == "" {
		return Scoped{}, fmt.Errorf("variable identifier cannot be empty")
	}

	matches := scopedRegex.FindStringSubmatch(raw)
	if matches == nil {
		return Scoped{}, fmt.Errorf("invalid variable identifier format: %q", raw)
	}

	ns, err := ParseNamespace(matches[1])
	if err != nil {
		return Scoped{}, err
	}

	name := matches[2]
	if name == "." || name == ".." {
		return Scoped{}, fmt.Errorf("invalid variable name: %q", name)
	}

	scope := Scope{}
	for _, m := range indexRegex.FindAllStringSubmatch(matches[3], -1) {
		index, err := strconv.Atoi(m[1])
		if err != nil {
			return Scoped{}, fmt.Errorf("invalid scope index %q: %w", m[1], err)
		}
		scope = append(scope, index)
	}

	return Scoped{Variable: Variable{Namespace: ns, Name: name}, Scope: scope}, nil
}
