// Package ring implements a consistent hashing ring with virtual nodes.
// Objects hash to a bucket segment, and each segment hashes onto the ring
// to pick the members holding its replicas or fragments. A Ring is an
// immutable snapshot; membership changes build a new one.
package ring
