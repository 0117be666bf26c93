// Package consistency decides, for every read, how many and which metadata
// replicas to consult and reconciles their answers into one result.
//
// A ReadConsistency selects the policy:
//
//   - Consistent reads the leader only and never falls back.
//   - Quorum reads a strict majority and returns the newest answer.
//   - Subset(n) reads n replicas in ascending id order; freshness is not
//     guaranteed, but divergent payloads at one version are reported.
//   - Stale reads the first reachable replica.
//
// All fetches of one call share a single deadline and run concurrently.
package consistency
