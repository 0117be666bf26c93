// Package expect provides write preconditions (optimistic concurrency
// control) and the evaluator that decides whether a write may proceed given
// the object's currently known versions.
package expect
