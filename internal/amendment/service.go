package amendment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"efile/internal/consistency"
	"efile/internal/document"
	"efile/internal/pipeline"
	"efile/internal/retry"
	"efile/internal/schema"
	"efile/internal/submission/models"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
	"efile/pkg/platform/sentinel"
	"efile/pkg/requestcontext"
)

// Submissions looks up the original submission.
type Submissions interface {
	Get(ctx context.Context, subID id.SubmissionID) (*models.Submission, error)
}

// Submitter files the amended document.
type Submitter interface {
	SubmitDocument(ctx context.Context, req pipeline.DocumentRequest) pipeline.Result
}

type Service struct {
	submissions Submissions
	submitter   Submitter
	schemas     *schema.Registry
	calculator  *consistency.Calculator
	store       Store
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(submissions Submissions, submitter Submitter, schemas *schema.Registry, calc *consistency.Calculator, store Store, opts ...Option) *Service {
	s := &Service{
		submissions: submissions,
		submitter:   submitter,
		schemas:     schemas,
		calculator:  calc,
		store:       store,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "amendment")
	return s
}

func (s *Service) clock(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}

// CreateAmendment applies changes to the accepted submission originalID and
// files the result as a new submission. An amendment that fails validation is
// returned as a *retry.ValidationFailure and nothing is submitted.
func (s *Service) CreateAmendment(ctx context.Context, originalID id.SubmissionID, changes []Change) (*Record, error) {
	if len(changes) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one change is required")
	}
	original, err := s.submissions.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.StatusAccepted {
		return nil, dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
			"only ACCEPTED submissions can be amended; "+originalID.String()+" is "+string(original.Status))
	}
	if len(original.XMLContent) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "accepted submission has no stored document")
	}
	ctx = requestcontext.WithSubmissionID(ctx, originalID)

	root, err := document.Parse(original.XMLContent)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "stored document is not well-formed")
	}
	amendedRoot, err := Apply(root, changes)
	if err != nil {
		return nil, err
	}
	amendedRoot.SetAttr(document.AttrAmended, "X")
	amendedRoot.SetAttr(document.AttrOriginalSubmission, originalID.String())
	amended := document.FromNode(amendedRoot)
	data := amended.Bytes()

	outcome, err := s.schemas.Validate(ctx, data, original.FormType, amended.Header.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if outcome.IsValid {
		outcome = outcome.Merge(s.calculator.CheckConsistency(ctx, consistency.ScheduleSetFromDocument(amended)))
	}
	if !outcome.IsValid {
		s.logger.InfoContext(ctx, "amendment failed validation", append(requestcontext.LogAttrs(ctx),
			"errors", len(outcome.Messages()))...)
		return nil, &retry.ValidationFailure{Outcome: outcome}
	}

	diff, err := Diff(original.XMLContent, data)
	if err != nil {
		return nil, err
	}

	res := s.submitter.SubmitDocument(ctx, pipeline.DocumentRequest{
		Data:        data,
		FormType:    original.FormType,
		Version:     amended.Header.SchemaVersion,
		AmendmentOf: &originalID,
	})
	if res.SubmissionID.IsNil() {
		return nil, resultError(res)
	}

	rec := &Record{
		ID:           id.NewAmendmentID(),
		OriginalID:   originalID,
		SubmissionID: res.SubmissionID,
		Changes:      changes,
		Diff:         diff,
		CreatedAt:    s.clock(ctx),
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save amendment")
	}
	s.logger.InfoContext(ctx, "amendment filed", append(requestcontext.LogAttrs(ctx),
		"amendment_id", rec.ID.String(),
		"amended_submission_id", rec.SubmissionID.String(),
		"value_changes", diff.Count(ValueChange),
		"structure_changes", diff.Count(StructureChange),
		"status", string(res.Status),
	)...)
	return rec, nil
}

// Get returns one amendment record.
func (s *Service) Get(ctx context.Context, amendmentID id.AmendmentID) (*Record, error) {
	rec, err := s.store.Load(ctx, amendmentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "amendment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load amendment")
	}
	return rec, nil
}

// ForSubmission lists the amendments filed against original, oldest first.
func (s *Service) ForSubmission(ctx context.Context, original id.SubmissionID) ([]*Record, error) {
	return s.store.ListByOriginal(ctx, original)
}

func resultError(res pipeline.Result) error {
	if len(res.Errors) == 0 {
		return dErrors.New(dErrors.CodeInternal, "amended return was not recorded")
	}
	first := res.Errors[0]
	return dErrors.New(first.Code, first.Message)
}
