// Package transforms evaluates dataset transform pipelines over in-memory
// tables.
//
// An Engine runs a resolved pipeline (a slice of *spec.Transform) against an
// input table, returning the result table, the values of any signals the
// transforms define (extent and bin) and whether the row limit truncated
// the result. Dispatch is a closed switch over spec.TransformKind; the
// planner is responsible for never sending an unsupported transform.
package transforms
