// Package device models storage devices and places bucket segments on them.
//
// Physical devices (memory or file backed) live on a server and have a
// capacity; virtual devices group other devices and carry the allocation
// policy used to spread segments across their children. Weights steer the
// placement and resolve to a non-negative number relative to the cluster.
package device
