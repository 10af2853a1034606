package models

import (
	"slices"
	"time"

	"efile/internal/forms"
	"efile/internal/signer"
	id "efile/pkg/domain"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusTransmitted Status = "TRANSMITTED"
	StatusAccepted    Status = "ACCEPTED"
	StatusRejected    Status = "REJECTED"
	StatusError       Status = "ERROR"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusTransmitted, StatusError, StatusCancelled},
	StatusTransmitted: {StatusAccepted, StatusRejected, StatusError, StatusTransmitted},
	StatusError:       {StatusPending, StatusFailed},
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> to is a legal edge. TRANSMITTED ->
// TRANSMITTED records an in-process acknowledgment without a state change.
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusTransmitted, StatusAccepted, StatusRejected,
		StatusError, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// EventType labels a history entry.
type EventType string

const (
	EventCreated        EventType = "created"
	EventTransmitted    EventType = "transmitted"
	EventAcknowledgment EventType = "acknowledgment"
	EventFailure        EventType = "failure"
	EventRetryScheduled EventType = "retry_scheduled"
	EventFailed         EventType = "failed"
	EventCancelled      EventType = "cancelled"
)

// HistoryEntry records one transition. Entries are only ever appended.
type HistoryEntry struct {
	Type       EventType `json:"type"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
	Detail     string    `json:"detail,omitempty"`
}

// ErrorDetails is the classification of the most recent failure.
type ErrorDetails struct {
	Type      string `json:"type"`
	Category  string `json:"category"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Submission is the tracked record of one transmission lifecycle. Records are
// never deleted.
type Submission struct {
	ID                   id.SubmissionID
	FormType             forms.FormType
	TaxYear              int
	Status               Status
	TransmissionAttempts int
	RetryCount           int
	XMLContent           []byte
	Envelope             signer.Envelope
	AcknowledgmentData   []byte
	ErrorDetails         *ErrorDetails
	History              []HistoryEntry
	AmendmentOf          *id.SubmissionID
	ResubmissionOf       *id.SubmissionID
	NextAttemptAt        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone returns a deep copy so callers never share slices with a store.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.XMLContent = slices.Clone(s.XMLContent)
	c.Envelope = signer.Envelope{
		Document:    slices.Clone(s.Envelope.Document),
		Signature:   slices.Clone(s.Envelope.Signature),
		Certificate: slices.Clone(s.Envelope.Certificate),
	}
	c.AcknowledgmentData = slices.Clone(s.AcknowledgmentData)
	c.History = slices.Clone(s.History)
	if s.ErrorDetails != nil {
		d := *s.ErrorDetails
		c.ErrorDetails = &d
	}
	if s.AmendmentOf != nil {
		v := *s.AmendmentOf
		c.AmendmentOf = &v
	}
	if s.ResubmissionOf != nil {
		v := *s.ResubmissionOf
		c.ResubmissionOf = &v
	}
	if s.NextAttemptAt != nil {
		v := *s.NextAttemptAt
		c.NextAttemptAt = &v
	}
	return &c
}

// Record appends a history entry and moves the record to entry.ToStatus.
func (s *Submission) Record(entry HistoryEntry) {
	entry.FromStatus = s.Status
	s.History = append(s.History, entry)
	s.Status = entry.ToStatus
	s.UpdatedAt = entry.Timestamp
}

// Statuses lists the status sequence recorded in the history.
func (s *Submission) Statuses() []Status {
	out := make([]Status, 0, len(s.History))
	for _, h := range s.History {
		out = append(out, h.ToStatus)
	}
	return out
}

// Handoff is MeF's synchronous answer to a transmission.
type Handoff struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message,omitempty"`
}
