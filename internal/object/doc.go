// Package object defines the versioned object primitives shared by the
// consistency and precondition core: object versions, versioned values,
// summaries, prefixes and version ranges.
package object
