package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of the request gate.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// Decision is one audited gate decision. It never carries the raw token or
// claim values beyond the subject.
type Decision struct {
	ID          uuid.UUID
	RequestID   string
	Method      string
	Path        string
	Subject     string
	Outcome     Outcome
	Reason      string
	Status      int
	Requirement string
	Roles       []string
	Timestamp   time.Time
}

// NewDecision stamps a decision with a fresh id and the current time.
func NewDecision(outcome Outcome, reason string, status int) *Decision {
	return &Decision{
		ID:        uuid.New(),
		Outcome:   outcome,
		Reason:    reason,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Repository persists decisions.
type Repository interface {
	Insert(ctx context.Context, d *Decision) error
	ListRecent(ctx context.Context, limit int) ([]*Decision, error)
}
