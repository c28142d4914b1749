// internal/guarantee/lifecycle.go
package guarantee

import (
	"slices"
	"time"
)

// transitions is the static lifecycle table. expired, cancelled and rejected
// have no outgoing edges. active -> active is a renewal.
var transitions = map[Status][]Status{
	StatusDraft:       {StatusSubmitted, StatusCancelled},
	StatusSubmitted:   {StatusUnderReview, StatusApproved, StatusRejected, StatusReturned, StatusCancelled},
	StatusUnderReview: {StatusApproved, StatusRejected, StatusReturned, StatusCancelled},
	StatusReturned:    {StatusDraft, StatusCancelled},
	StatusApproved:    {StatusIssued, StatusCancelled},
	StatusIssued:      {StatusActive, StatusCancelled},
	StatusActive:      {StatusActive, StatusExpired, StatusCancelled},
}

// CanTransition reports whether the edge from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// NextStatuses returns the legal targets from s.
func NextStatuses(s Status) []Status {
	return slices.Clone(transitions[s])
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// applyTransition checks the edge, moves g to target and appends exactly one
// history entry. The previous status is taken from the aggregate itself.
func applyTransition(g *Guarantee, target Status, actor, reason, notes string, at time.Time) error {
	from := g.Status
	if !CanTransition(from, target) {
		return &IllegalTransitionError{From: from, To: target}
	}

	g.Status = target
	g.StatusHistory = append(g.StatusHistory, StatusChange{
		PreviousStatus: from,
		Status:         target,
		ChangedAt:      at,
		ChangedBy:      actor,
		Reason:         reason,
		Notes:          notes,
	})
	g.LastModified = at
	g.LastModifiedBy = actor
	return nil
}
