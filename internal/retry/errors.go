package retry

import (
	"fmt"
	"strings"

	"efile/internal/document"
	dErrors "efile/pkg/domain-errors"
)

// ValidationFailure carries every structural and consistency error found for
// one document. It is never retried automatically.
type ValidationFailure struct {
	Outcome document.ValidationOutcome
}

func (e *ValidationFailure) Error() string {
	msgs := e.Outcome.Messages()
	if len(msgs) == 0 {
		return "validation failed"
	}
	const shown = 3
	if len(msgs) > shown {
		return fmt.Sprintf("validation failed: %s (and %d more)", strings.Join(msgs[:shown], "; "), len(msgs)-shown)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationFailure) DomainCode() dErrors.Code { return dErrors.CodeValidation }

func (e *ValidationFailure) Kind() string { return "validation_failure" }

// TransmissionFailure is a network or transport-side failure while handing a
// submission to MeF, including a refused handoff.
type TransmissionFailure struct {
	Message string
	Err     error
}

func (e *TransmissionFailure) Error() string {
	if e.Err != nil {
		return "transmission failed: " + e.Message + ": " + e.Err.Error()
	}
	return "transmission failed: " + e.Message
}

func (e *TransmissionFailure) Unwrap() error { return e.Err }

func (e *TransmissionFailure) DomainCode() dErrors.Code { return dErrors.CodeUnavailable }

func (e *TransmissionFailure) Kind() string { return "transmission_failure" }

// AcknowledgmentError is a malformed or unverifiable acknowledgment.
type AcknowledgmentError struct {
	Reason string
	Err    error
}

func (e *AcknowledgmentError) Error() string {
	if e.Err != nil {
		return "acknowledgment rejected: " + e.Reason + ": " + e.Err.Error()
	}
	return "acknowledgment rejected: " + e.Reason
}

func (e *AcknowledgmentError) Unwrap() error { return e.Err }

func (e *AcknowledgmentError) DomainCode() dErrors.Code { return dErrors.CodeBadRequest }

func (e *AcknowledgmentError) Kind() string { return "acknowledgment_error" }
