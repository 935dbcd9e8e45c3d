// Package job coordinates extraction runs: the state machine, the
// lease-based mutual exclusion, the batch engine and the progress
// bookkeeping.
//
// Valid status graph:
//
//	PENDING ──► PROCESSING ──► COMPLETED
//	    │            │
//	    └────────────┴──► FAILED
//
// COMPLETED and FAILED are terminal states.
package job

import "github.com/ledgermail/extractor/constants"

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[constants.JobStatus][]constants.JobStatus{
	constants.JobStatusPending:    {constants.JobStatusProcessing, constants.JobStatusFailed},
	constants.JobStatusProcessing: {constants.JobStatusCompleted, constants.JobStatusFailed},
	// COMPLETED and FAILED are terminal — no outgoing transitions
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to constants.JobStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status admits no further transitions.
func IsTerminal(s constants.JobStatus) bool {
	_, ok := validTransitions[s]
	return !ok
}
