// Package table holds the in-memory dataset model shared by the planner and
// the transform operators: rows of cty values, the set of timestamp-bearing
// columns, JSON conversion for embedding results back into a spec, and the
// msgpack columnar payload used for inline datasets.
package table
