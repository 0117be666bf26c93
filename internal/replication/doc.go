// Package replication maps bucket segments to the members that hold them.
package replication
