// Package topology validates bucket layouts and exposes the replica and
// fragment counts that bound how many members a read or write must touch.
package topology
