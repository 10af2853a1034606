package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/credential"
	"efile/internal/document"
	"efile/internal/forms"
	"efile/internal/schedules"
	"efile/internal/schema"
	dErrors "efile/pkg/domain-errors"
)

func TestBackoff(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, p.Backoff(1))
	assert.Equal(t, 10*time.Second, p.Backoff(2))
	assert.Equal(t, 20*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(0), "counts below one use the base delay")
	assert.Equal(t, MaxBackoff, p.Backoff(20))
	assert.Equal(t, MaxBackoff, p.Backoff(500), "no overflow for absurd counts")
}

func TestDefaultPolicies(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, Policy{MaxRetries: 2, BaseDelay: time.Second}, c.Policy(CategoryValidation))
	assert.Equal(t, Policy{MaxRetries: 3, BaseDelay: 5 * time.Second}, c.Policy(CategorySubmission))
	assert.Equal(t, Policy{MaxRetries: 1, BaseDelay: 10 * time.Second}, c.Policy(CategorySystem))
}

func TestWithPolicyOverrides(t *testing.T) {
	c := NewClassifier(WithPolicy(CategorySubmission, Policy{MaxRetries: 5, BaseDelay: time.Millisecond}))
	assert.Equal(t, 5, c.Policy(CategorySubmission).MaxRetries)
	assert.Equal(t, 4*time.Millisecond, c.Backoff(CategorySubmission, 3))
	assert.Equal(t, 2, c.Policy(CategoryValidation).MaxRetries)
}

func TestSeverity(t *testing.T) {
	c := NewClassifier()
	err := &TransmissionFailure{Message: "connection reset"}
	for cat, want := range map[Category]Severity{
		CategorySystem:     SeverityCritical,
		CategorySubmission: SeverityHigh,
		CategoryValidation: SeverityMedium,
		Category("OTHER"):  SeverityLow,
	} {
		assert.Equal(t, want, c.Classify(err, cat).Severity, cat)
	}
	assert.Equal(t, slog.LevelError, SeverityCritical.Level())
	assert.Equal(t, slog.LevelWarn, SeverityMedium.Level())
	assert.Equal(t, slog.LevelInfo, SeverityLow.Level())
}

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name      string
		err       error
		category  Category
		kind      string
		retryable bool
	}{
		{"transmission failure", &TransmissionFailure{Message: "status 503"}, CategorySubmission, "transmission_failure", true},
		{"wrapped transmission failure", fmt.Errorf("attempt 2: %w", &TransmissionFailure{Message: "eof"}), CategorySubmission, "transmission_failure", true},
		{"deadline", context.DeadlineExceeded, CategorySubmission, string(dErrors.CodeInternal), true},
		{"acknowledgment error", &AcknowledgmentError{Reason: "missing Status"}, CategorySystem, "acknowledgment_error", true},
		{"validation failure", &ValidationFailure{}, CategoryValidation, "validation_failure", false},
		{"incomplete input", &forms.IncompleteInputError{FormType: forms.ScheduleC, Paths: []string{"GrossReceiptsAmt"}}, CategorySystem, "", false},
		{"circular dependency", &schedules.CircularDependencyError{Cycle: []forms.FormType{forms.ScheduleC, forms.ScheduleSE, forms.ScheduleC}}, CategorySystem, "", false},
		{"schema not found", &schema.SchemaNotFoundError{FormType: "IRS1040", Version: "2019v9.9"}, CategorySystem, "", false},
		{"credential unavailable", &credential.CredentialUnavailableError{Path: "/k", Reason: "key file missing"}, CategorySystem, "", false},
		{"unauthorized", dErrors.New(dErrors.CodeUnauthorized, "token rejected"), CategorySubmission, string(dErrors.CodeUnauthorized), false},
		{"forbidden", dErrors.New(dErrors.CodeForbidden, "not enrolled"), CategorySubmission, string(dErrors.CodeForbidden), false},
		{"unknown category", errors.New("boom"), Category("OTHER"), string(dErrors.CodeInternal), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cls := c.Classify(tc.err, tc.category)
			assert.Equal(t, tc.retryable, cls.IsRetryable)
			assert.Equal(t, tc.category, cls.Category)
			assert.Equal(t, tc.err.Error(), cls.Message)
			if tc.kind != "" {
				assert.Equal(t, tc.kind, cls.Type)
			}
		})
	}
}

func TestShouldRetryBudget(t *testing.T) {
	c := NewClassifier()
	cls := c.Classify(&TransmissionFailure{Message: "reset"}, CategorySubmission)
	require.True(t, cls.IsRetryable)

	assert.True(t, c.ShouldRetry(cls, 1))
	assert.True(t, c.ShouldRetry(cls, 2))
	assert.False(t, c.ShouldRetry(cls, 3), "third failure exhausts the SUBMISSION budget")

	sys := c.Classify(&AcknowledgmentError{Reason: "bad xml"}, CategorySystem)
	assert.False(t, c.ShouldRetry(sys, 1), "SYSTEM allows a single attempt")

	val := c.Classify(&ValidationFailure{}, CategoryValidation)
	assert.False(t, c.ShouldRetry(val, 0))
}

func TestValidationFailureMessage(t *testing.T) {
	var out document.ValidationOutcome
	assert.Equal(t, "validation failed", (&ValidationFailure{Outcome: out}).Error())
	assert.True(t, dErrors.HasCode(&ValidationFailure{}, dErrors.CodeValidation))

	wrapped := &TransmissionFailure{Message: "post", Err: context.Canceled}
	assert.ErrorIs(t, wrapped, context.Canceled)
	assert.Contains(t, wrapped.Error(), "context canceled")
}
