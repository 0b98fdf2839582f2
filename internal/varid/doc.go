// internal/varid/doc.go

/*
Package varid provides a structured, type-safe representation for the
variables a visualization spec defines, and for their instantiations inside
nested group scopes.

A Variable is a (namespace, name) pair, e.g. `signal.width` or
`data.points`. A Scope is the path of group-mark indices leading to the
group that defines the variable. The canonical text form of a scoped
variable appends one `[i]` segment per nesting level, e.g.
`data.points[0][2]`.

This package centralizes formatting and parsing so that warnings, CLI flags
and graph keys all agree on one representation.
*/
package varid
