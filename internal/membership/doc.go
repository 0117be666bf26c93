// Package membership tracks which cluster members are reachable and whether
// the designated leader of a bucket segment may lead it.
//
// Failure detection is a simplified SWIM-style protocol: members are probed
// periodically, a failed probe makes a member Suspect, and a Suspect member
// that stays silent past the suspect timeout becomes Dead. Status spreads by
// gossip; a higher incarnation always wins.
//
// A segment leader is only reported while it is Alive. There is no
// failover: an unreachable leader is reported unknown until it recovers.
package membership
