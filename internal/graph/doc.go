// Package graph builds the dependency graph of a loaded chart.
//
// Every (variable, scope) instantiation becomes one Node in an arena that is
// built once and never mutated afterwards. Group marks are expanded by
// position: the i-th group mark among its siblings contributes scope index
// i. References resolve to the nearest enclosing scope that defines the
// name.
//
// Edges run from a dependency to its consumer:
//
//	data.source[0]  --->  data.table[0]  --->  signal.extent[0]
//	   (source)             (transform)          (output signal)
//
// Besides edges, the builder records three facts the classifier needs:
// references that resolve nowhere, strongly connected components (cycles),
// and regions whose group cardinality is only known at render time
// (faceted or data-driven group marks).
package graph
