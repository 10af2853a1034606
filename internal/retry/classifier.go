// Package retry classifies pipeline failures and decides whether and when a
// submission is attempted again.
package retry

import (
	"errors"
	"log/slog"
	"time"

	dErrors "efile/pkg/domain-errors"
)

// Category selects the retry policy for a failure.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategorySubmission Category = "SUBMISSION"
	CategorySystem     Category = "SYSTEM"
)

// Severity is derived from the category and only affects logging.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Level maps a severity to the log level used when reporting it.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func severityOf(c Category) Severity {
	switch c {
	case CategorySystem:
		return SeverityCritical
	case CategorySubmission:
		return SeverityHigh
	case CategoryValidation:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MaxBackoff caps the delay between attempts.
const MaxBackoff = time.Hour

// Policy is the retry budget of one category.
type Policy struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
}

// Backoff returns BaseDelay * 2^(retryCount-1), capped at MaxBackoff.
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := p.BaseDelay
	for i := 1; i < retryCount; i++ {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	return min(d, MaxBackoff)
}

// DefaultPolicies is the shipped policy table.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryValidation: {MaxRetries: 2, BaseDelay: time.Second},
		CategorySubmission: {MaxRetries: 3, BaseDelay: 5 * time.Second},
		CategorySystem:     {MaxRetries: 1, BaseDelay: 10 * time.Second},
	}
}

// denylist holds the error codes that are never retried: validation,
// authentication and permission failures, and the fatal configuration kinds.
var denylist = []dErrors.Code{
	dErrors.CodeIncompleteInput,
	dErrors.CodeValidation,
	dErrors.CodeUnauthorized,
	dErrors.CodeForbidden,
	dErrors.CodeConfiguration,
	dErrors.CodeInvariantViolation,
}

// Classification is the classifier's verdict on one failure.
type Classification struct {
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	IsRetryable bool     `json:"is_retryable"`
}

type Classifier struct {
	policies map[Category]Policy
	logger   *slog.Logger
}

type Option func(*Classifier)

// WithPolicy overrides the policy of one category.
func WithPolicy(c Category, p Policy) Option {
	return func(cl *Classifier) { cl.policies[c] = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Classifier) { cl.logger = logger }
}

func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		policies: DefaultPolicies(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify names the failure and decides whether it may be retried at all.
// Whether a retry actually happens also depends on the budget; see ShouldRetry.
func (c *Classifier) Classify(err error, category Category) Classification {
	cls := Classification{
		Type:     kindOf(err),
		Category: category,
		Severity: severityOf(category),
	}
	if err != nil {
		cls.Message = err.Error()
	}
	cls.IsRetryable = err != nil && !denied(err)
	if _, known := c.policies[category]; !known {
		cls.IsRetryable = false
	}
	return cls
}

// Policy returns the policy for category; unknown categories get no retries.
func (c *Classifier) Policy(category Category) Policy {
	return c.policies[category]
}

// ShouldRetry applies the budget: retryCount is the count after the failure
// being handled.
func (c *Classifier) ShouldRetry(cls Classification, retryCount int) bool {
	return cls.IsRetryable && retryCount < c.policies[cls.Category].MaxRetries
}

// Backoff is the delay before the next attempt after retryCount failures.
func (c *Classifier) Backoff(category Category, retryCount int) time.Duration {
	return c.policies[category].Backoff(retryCount)
}

func denied(err error) bool {
	for _, code := range denylist {
		if dErrors.HasCode(err, code) {
			return true
		}
	}
	return false
}

func kindOf(err error) string {
	if err == nil {
		return "none"
	}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return string(dErrors.CodeOf(err))
}
