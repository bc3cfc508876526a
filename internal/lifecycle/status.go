// Package lifecycle holds the pure request and journey rules: status
// ordering, the timeline projection, bid acceptance and journey readiness.
package lifecycle

import (
	"errors"
	"fmt"

	"gotodo/internal/domain"
)

var ordered = []domain.RequestStatus{
	domain.StatusPending,
	domain.StatusAwaitingAcceptance,
	domain.StatusProviderAssigned,
	domain.StatusEnRoute,
	domain.StatusServiceInProgress,
	domain.StatusPendingPayment,
	domain.StatusCompleted,
}

var labels = map[domain.RequestStatus]string{
	domain.StatusPending:            "Pending",
	domain.StatusAwaitingAcceptance: "Awaiting Acceptance",
	domain.StatusProviderAssigned:   "Provider Assigned",
	domain.StatusEnRoute:            "En Route",
	domain.StatusServiceInProgress:  "Service In Progress",
	domain.StatusPendingPayment:     "Pending Payment",
	domain.StatusCompleted:          "Completed",
	domain.StatusCancelled:          "Cancelled",
	domain.StatusDisputed:           "Disputed",
}

// ErrNotOpenForBids is returned when a bid operation targets a request that
// no longer accepts bids.
var ErrNotOpenForBids = errors.New("request is not open for bids")

// TransitionError describes a rejected status change.
type TransitionError struct {
	From domain.RequestStatus
	To   domain.RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid request status transition %s -> %s", e.From, e.To)
}

// Statuses returns the ordered happy path.
func Statuses() []domain.RequestStatus {
	out := make([]domain.RequestStatus, len(ordered))
	copy(out, ordered)
	return out
}

// StatusIndex returns the position on the ordered path, -1 for side states
// and unknown values.
func StatusIndex(s domain.RequestStatus) int {
	for i, v := range ordered {
		if v == s {
			return i
		}
	}
	return -1
}

func Label(s domain.RequestStatus) string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

func Valid(s domain.RequestStatus) bool {
	_, ok := labels[s]
	return ok
}

func IsSideState(s domain.RequestStatus) bool {
	return s == domain.StatusCancelled || s == domain.StatusDisputed
}

func IsTerminal(s domain.RequestStatus) bool {
	return s == domain.StatusCompleted || IsSideState(s)
}

// OpenForBids reports whether providers may still bid.
func OpenForBids(s domain.RequestStatus) bool {
	return s == domain.StatusPending || s == domain.StatusAwaitingAcceptance
}

// EnsureTransition allows a move to the immediate successor on the ordered
// path, or to a side state from any non-terminal state.
func EnsureTransition(from, to domain.RequestStatus) error {
	if !Valid(to) || IsTerminal(from) {
		return &TransitionError{From: from, To: to}
	}
	if IsSideState(to) {
		return nil
	}
	i := StatusIndex(from)
	if i < 0 || StatusIndex(to) != i+1 {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
