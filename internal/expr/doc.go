// Package expr compiles the expression strings embedded in visualization
// specs (filter predicates, formulas, signal updates) into HCL expressions,
// extracts the signals and datasets they reference, and evaluates them over
// cty values.
//
// Spec expressions use a JavaScript-like surface syntax. The compiler
// rewrites the few lexical differences (single-quoted strings, strict
// equality operators) before handing the text to hclsyntax, so everything
// after that point is plain HCL: traversals become references, calls
// resolve against the function table built by Functions.
package expr
