// Package spec loads visualization specs into a structured chart model and
// writes them back out.
//
// The loader keeps the original document tree (see Object and Array) next
// to the typed model, so that a rewrite touches only the members it changes:
// every object that is not modified re-encodes to its original bytes,
// siblings keep their order, and keys this package does not understand are
// carried through untouched.
package spec
