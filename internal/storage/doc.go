// Package storage provides the per-replica object table. Each entry carries
// the version assigned by the segment leader; deletes leave tombstones so a
// removal is never masked by a replica that still holds the old value.
package storage
