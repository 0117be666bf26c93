// Package repair provides reconciliation of divergent replica answers. It
// selects the answer carrying the highest object version, refuses to choose
// between different payloads at the same version, and identifies stale
// replicas for read repair.
package repair
