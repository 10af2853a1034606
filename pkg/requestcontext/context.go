// Package requestcontext provides transport-independent accessors for values that
// travel with one unit of work through the pipeline.
//
// Usage in services (read values):
//
//	now := requestcontext.Now(ctx)
//	subID := requestcontext.SubmissionID(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"log/slog"
	"time"

	id "efile/pkg/domain"
)

type (
	requestIDKey    struct{}
	submissionIDKey struct{}
	requestTimeKey  struct{}
)

var (
	ContextKeyRequestID    = requestIDKey{}
	ContextKeySubmissionID = submissionIDKey{}
	ContextKeyRequestTime  = requestTimeKey{}
)

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// SubmissionID retrieves the submission being worked on.
// Returns the zero value if not set.
func SubmissionID(ctx context.Context) id.SubmissionID {
	if subID, ok := ctx.Value(ContextKeySubmissionID).(id.SubmissionID); ok {
		return subID
	}
	return id.SubmissionID{}
}

// WithSubmissionID tags the context with the submission being worked on.
func WithSubmissionID(ctx context.Context, subID id.SubmissionID) context.Context {
	return context.WithValue(ctx, ContextKeySubmissionID, subID)
}

// Now retrieves the unit-of-work time from context.
// Falls back to time.Now() if not set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the time seen by every stage of one unit of work. Builders read
// it for the return timestamp, so two builds under the same pinned time are
// byte-identical.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// LogAttrs returns the correlation attributes present in ctx.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if reqID := RequestID(ctx); reqID != "" {
		attrs = append(attrs, slog.String("request_id", reqID))
	}
	if subID := SubmissionID(ctx); !subID.IsNil() {
		attrs = append(attrs, slog.String("submission_id", subID.String()))
	}
	return attrs
}
