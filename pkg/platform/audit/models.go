package audit

import (
	"context"
	"time"

	id "efile/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This drives retention and the Kafka topic an event is relayed to.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: a return
	// reached the tax authority or reached a final verdict.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers credential lifecycle and authentication faults.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers retries, interim acknowledgments and the rest
	// of the routine lifecycle.
	CategoryOperations EventCategory = "operations"
)

// Action names what happened.
type Action string

const (
	ActionSubmissionCreated     Action = "submission_created"
	ActionSubmissionTransmitted Action = "submission_transmitted"
	ActionSubmissionAccepted    Action = "submission_accepted"
	ActionSubmissionRejected    Action = "submission_rejected"
	ActionAcknowledgmentPending Action = "acknowledgment_in_process"
	ActionSubmissionErrored     Action = "submission_errored"
	ActionRetryScheduled        Action = "retry_scheduled"
	ActionSubmissionFailed      Action = "submission_failed"
	ActionSubmissionCancelled   Action = "submission_cancelled"
	ActionAmendmentCreated      Action = "amendment_created"
	ActionCredentialRotated     Action = "credential_rotated"
	ActionAuthenticationFailed  Action = "authentication_failed"
)

var actionCategories = map[Action]EventCategory{
	ActionSubmissionTransmitted: CategoryCompliance,
	ActionSubmissionAccepted:    CategoryCompliance,
	ActionSubmissionRejected:    CategoryCompliance,
	ActionSubmissionFailed:      CategoryCompliance,
	ActionAmendmentCreated:      CategoryCompliance,

	ActionCredentialRotated:    CategorySecurity,
	ActionAuthenticationFailed: CategorySecurity,
}

// Category returns the category for a. Unknown actions are operations events.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture one lifecycle step.
type Event struct {
	ID           id.EventID
	Category     EventCategory
	Action       Action
	Timestamp    time.Time
	SubmissionID id.SubmissionID
	FromStatus   string
	ToStatus     string
	Detail       string
	RequestID    string
}

// Store persists events. Postgres-backed stores write to the outbox in the
// transaction carried by ctx when there is one.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubmission(ctx context.Context, subID id.SubmissionID) ([]Event, error)
}
