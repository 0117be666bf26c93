// Package router coordinates object operations over the replicas of a
// bucket segment.
//
// Reads go through the consistency resolver with the caller's policy.
// Writes first read the current version from the segment leader, check the
// caller's precondition, apply on the leader and then replicate the
// leader's value to the followers until a quorum holds it.
package router
