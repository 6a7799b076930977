// Package retention holds the single expiry policy a replica applies to
// deleted tasks, adapted down from the teacher's pkg/retention — that
// package's legal holds, GDPR erasure workflow and JSON-persisted policy
// store have no counterpart here: a replica has exactly one lifecycle
// rule (spec section 3), not a per-category compliance schedule, so this
// package keeps only the shape that still applies: a named horizon and a
// cutoff computation, with the policy plumbed through to taskdb.DB.ExpireTasks.
package retention

import "time"

// DefaultTaskHorizon is how long a deleted task is kept around before
// ExpireTasks is allowed to remove it permanently, absent an operator
// override. Six months mirrors the teacher's own default retention
// window for its least sensitive data category.
const DefaultTaskHorizon = 6 * 30 * 24 * time.Hour

// Policy is the expiry rule a replica enforces on deleted tasks.
type Policy struct {
	// Horizon is how long after a task's last modification it remains
	// eligible for recovery before ExpireTasks may remove it.
	Horizon time.Duration
}

// DefaultPolicy returns the policy a replica uses when no operator
// override is configured.
func DefaultPolicy() Policy {
	return Policy{Horizon: DefaultTaskHorizon}
}

// Validate rejects a policy with a negative horizon; zero is legal and
// means "expire deleted tasks immediately on the next GC sweep".
func (p Policy) Validate() error {
	if p.Horizon < 0 {
		return errNegativeHorizon
	}
	return nil
}

// Cutoff returns the modified-before boundary a task must fall under to
// be eligible for expiry, given the current time.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.Horizon)
}
