package lifecycle

import "fmt"

// Status is the lifecycle state of a schedule.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReady     Status = "ready"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var ranks = map[Status]int{
	StatusDraft:     0,
	StatusReady:     1,
	StatusActive:    2,
	StatusCompleted: 3,
}

// ParseStatus validates a stored or user-supplied status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := ranks[st]; ok || st == StatusCancelled {
		return st, nil
	}
	return "", fmt.Errorf("unknown schedule status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether moving from one status to another keeps the
// observed sequence a subsequence of draft, ready, active, completed, or is a
// cancellation of a non-terminal schedule.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	rf, okf := ranks[from]
	rt, okt := ranks[to]
	return okf && okt && rt > rf
}
