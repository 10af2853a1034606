// Package service is the submission tracker: it owns the lifecycle state of
// every submission and is the only writer of Submission.Status.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"efile/internal/alerting"
	"efile/internal/forms"
	"efile/internal/retry"
	"efile/internal/signer"
	"efile/internal/submission/metrics"
	"efile/internal/submission/models"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
	audit "efile/pkg/platform/audit"
	"efile/pkg/platform/sentinel"
	"efile/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Repository,Transport,Scheduler,Auditor

// Repository persists submissions. UpdateStatus is a compare-and-set on the
// stored status: it writes rec only when the stored status still equals from,
// and returns sentinel.ErrConflict otherwise.
type Repository interface {
	Save(ctx context.Context, rec *models.Submission) error
	Load(ctx context.Context, subID id.SubmissionID) (*models.Submission, error)
	UpdateStatus(ctx context.Context, rec *models.Submission, from models.Status) error
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.Submission, error)
}

// Transport hands envelopes to MeF and fetches acknowledgments.
type Transport interface {
	Transmit(ctx context.Context, env signer.Envelope) (models.Handoff, error)
	FetchAcknowledgment(ctx context.Context, subID id.SubmissionID) ([]byte, bool, error)
}

// Scheduler arranges for a retry to run as a fresh unit of work at a time.
type Scheduler interface {
	Schedule(ctx context.Context, subID id.SubmissionID, at time.Time) error
	Cancel(ctx context.Context, subID id.SubmissionID) error
}

// Auditor records lifecycle events.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	repo       Repository
	transport  Transport
	scheduler  Scheduler
	alerter    alerting.Alerter
	auditor    Auditor
	classifier *retry.Classifier
	verifier   *signer.Signer
	tx         Transactor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

func WithAlerter(a alerting.Alerter) Option {
	return func(svc *Service) { svc.alerter = a }
}

func WithAuditor(a Auditor) Option {
	return func(svc *Service) { svc.auditor = a }
}

func WithClassifier(c *retry.Classifier) Option {
	return func(svc *Service) { svc.classifier = c }
}

// WithAckVerifier enables signed acknowledgments. Without it a signed
// acknowledgment is treated as unverifiable.
func WithAckVerifier(v *signer.Signer) Option {
	return func(svc *Service) { svc.verifier = v }
}

func WithTransactor(t Transactor) Option {
	return func(svc *Service) { svc.tx = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(svc *Service) { svc.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

func New(repo Repository, transport Transport, opts ...Option) *Service {
	svc := &Service{
		repo:       repo,
		transport:  transport,
		classifier: retry.NewClassifier(),
		tx:         NewShardedTx(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.With("component", "submission_tracker")
	if svc.alerter == nil {
		svc.alerter = alerting.NewLogAlerter(svc.logger)
	}
	return svc
}

func (s *Service) clock(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}

// CreateRequest describes a new submission. XMLContent and Envelope may be
// empty when the record only exists to carry a fatal pre-signing failure.
type CreateRequest struct {
	FormType       forms.FormType
	TaxYear        int
	XMLContent     []byte
	Envelope       signer.Envelope
	AmendmentOf    *id.SubmissionID
	ResubmissionOf *id.SubmissionID
}

// Create stores a new PENDING submission.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Submission, error) {
	if req.FormType == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "form type is required")
	}
	now := s.clock(ctx)
	rec := &models.Submission{
		ID:             id.NewSubmissionID(),
		FormType:       req.FormType,
		TaxYear:        req.TaxYear,
		XMLContent:     req.XMLContent,
		Envelope:       req.Envelope,
		AmendmentOf:    req.AmendmentOf,
		ResubmissionOf: req.ResubmissionOf,
		CreatedAt:      now,
	}
	entry := models.HistoryEntry{Type: models.EventCreated, ToStatus: models.StatusPending, Timestamp: now}
	rec.Record(entry)

	ctx = requestcontext.WithSubmissionID(ctx, rec.ID)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Save(ctx, rec); err != nil {
			return err
		}
		return s.emit(ctx, rec, entry, audit.ActionSubmissionCreated)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create submission")
	}
	s.metrics.ObserveTransition("", string(models.StatusPending))
	s.logger.InfoContext(ctx, "submission created", append(requestcontext.LogAttrs(ctx), "form_type", string(rec.FormType))...)
	return rec.Clone(), nil
}

// Get returns the current record.
func (s *Service) Get(ctx context.Context, subID id.SubmissionID) (*models.Submission, error) {
	return s.load(ctx, subID)
}

// History returns the transition log in order.
func (s *Service) History(ctx context.Context, subID id.SubmissionID) ([]models.HistoryEntry, error) {
	rec, err := s.load(ctx, subID)
	if err != nil {
		return nil, err
	}
	return rec.History, nil
}

// List returns up to limit submissions in status.
func (s *Service) List(ctx context.Context, status models.Status, limit int) ([]*models.Submission, error) {
	if !status.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown status %q", status)
	}
	return s.repo.ListByStatus(ctx, status, limit)
}

// Transmit hands a PENDING submission to MeF. A refused handoff or a
// transport error is handled as a SUBMISSION failure; the returned error is
// that failure and the returned record reflects the state after handling it.
func (s *Service) Transmit(ctx context.Context, subID id.SubmissionID) (*models.Submission, error) {
	rec, err := s.load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPending {
		return rec, invalidState(rec, "transmit")
	}
	ctx = requestcontext.WithSubmissionID(ctx, rec.ID)
	attempts := rec.TransmissionAttempts + 1
	countAttempt := func(r *models.Submission) {
		r.TransmissionAttempts = attempts
		r.NextAttemptAt = nil
	}
	if rec.NextAttemptAt != nil {
		s.metrics.RetryDequeued()
	}

	start := time.Now()
	handoff, terr := s.transport.Transmit(ctx, rec.Envelope)
	elapsed := time.Since(start)

	if terr != nil {
		s.metrics.ObserveAttempt("error", elapsed)
		failure := asTransmissionFailure(terr, "transport error")
		if ferr := s.fail(ctx, rec, failure, retry.CategorySubmission, countAttempt); ferr != nil {
			return rec, ferr
		}
		return rec, failure
	}
	if !handoff.Accepted {
		s.metrics.ObserveAttempt("refused", elapsed)
		failure := &retry.TransmissionFailure{Message: "handoff refused: " + handoff.Message}
		if ferr := s.fail(ctx, rec, failure, retry.CategorySubmission, countAttempt); ferr != nil {
			return rec, ferr
		}
		return rec, failure
	}

	s.metrics.ObserveAttempt("accepted", elapsed)
	entry := models.HistoryEntry{Type: models.EventTransmitted, ToStatus: models.StatusTransmitted, Detail: handoff.Reference}
	if err := s.transition(ctx, rec, entry, audit.ActionSubmissionTransmitted, countAttempt); err != nil {
		return rec, err
	}
	return rec, nil
}

// ProcessAcknowledgment applies an acknowledgment to a TRANSMITTED submission.
// raw may be plain acknowledgment XML or a signed envelope around it.
func (s *Service) ProcessAcknowledgment(ctx context.Context, subID id.SubmissionID, raw []byte) (*models.Submission, error) {
	rec, err := s.load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusTransmitted {
		return rec, invalidState(rec, "acknowledge")
	}
	ctx = requestcontext.WithSubmissionID(ctx, rec.ID)
	keepAck := func(r *models.Submission) { r.AcknowledgmentData = raw }

	ack, ackErr := s.readAcknowledgment(rec, raw)
	if ackErr != nil {
		if ferr := s.fail(ctx, rec, ackErr, retry.CategorySystem, keepAck); ferr != nil {
			return rec, ferr
		}
		return rec, ackErr
	}

	switch ack.Status {
	case models.AckAccepted:
		err = s.finish(ctx, rec, models.StatusAccepted, ack, audit.ActionSubmissionAccepted, keepAck)
	case models.AckRejected:
		err = s.finish(ctx, rec, models.StatusRejected, ack, audit.ActionSubmissionRejected, func(r *models.Submission) {
			r.AcknowledgmentData = raw
			r.ErrorDetails = &models.ErrorDetails{
				Type:     "rejected",
				Category: string(retry.CategorySubmission),
				Severity: string(retry.SeverityHigh),
				Message:  ack.Summary(),
			}
		})
	case models.AckInProcess:
		entry := models.HistoryEntry{Type: models.EventAcknowledgment, ToStatus: models.StatusTransmitted, Detail: ack.Summary()}
		err = s.transition(ctx, rec, entry, audit.ActionAcknowledgmentPending, nil)
	case models.AckStatusError:
		failure := &retry.TransmissionFailure{Message: "acknowledgment reported " + ack.Summary()}
		if ferr := s.fail(ctx, rec, failure, retry.CategorySubmission, keepAck); ferr != nil {
			return rec, ferr
		}
		return rec, failure
	}
	return rec, err
}

func (s *Service) finish(ctx context.Context, rec *models.Submission, to models.Status, ack models.Acknowledgment, action audit.Action, mutate func(*models.Submission)) error {
	transmittedAt := lastTransmission(rec)
	entry := models.HistoryEntry{Type: models.EventAcknowledgment, ToStatus: to, Detail: ack.Summary()}
	if err := s.transition(ctx, rec, entry, action, mutate); err != nil {
		return err
	}
	if !transmittedAt.IsZero() {
		s.metrics.ObserveAcknowledgment(rec.UpdatedAt.Sub(transmittedAt))
	}
	s.logger.InfoContext(ctx, "submission final", append(requestcontext.LogAttrs(ctx), "status", string(to))...)
	return nil
}

func (s *Service) readAcknowledgment(rec *models.Submission, raw []byte) (models.Acknowledgment, error) {
	data := raw
	if signer.IsEnvelope(raw) {
		env, err := signer.DecodeEnvelope(raw)
		if err != nil {
			return models.Acknowledgment{}, &retry.AcknowledgmentError{Reason: "malformed signed acknowledgment", Err: err}
		}
		if s.verifier == nil || !s.verifier.Verify(env) {
			return models.Acknowledgment{}, &retry.AcknowledgmentError{Reason: "acknowledgment signature could not be verified"}
		}
		data = env.Document
	}
	ack, err := models.ParseAcknowledgment(data)
	if err != nil {
		return models.Acknowledgment{}, &retry.AcknowledgmentError{Reason: "malformed acknowledgment", Err: err}
	}
	if ack.SubmissionID != "" && ack.SubmissionID != rec.ID.String() {
		return models.Acknowledgment{}, &retry.AcknowledgmentError{
			Reason: fmt.Sprintf("acknowledgment names submission %s", ack.SubmissionID),
		}
	}
	return ack, nil
}

// Poll fetches the acknowledgment of a TRANSMITTED submission and applies it
// when one is available. A fetch error leaves the record untouched: the
// document already reached MeF and must not be retransmitted because the
// acknowledgment channel is down.
func (s *Service) Poll(ctx context.Context, subID id.SubmissionID) (*models.Submission, bool, error) {
	rec, err := s.load(ctx, subID)
	if err != nil {
		return nil, false, err
	}
	if rec.Status != models.StatusTransmitted {
		return rec, false, invalidState(rec, "poll")
	}
	ctx = requestcontext.WithSubmissionID(ctx, rec.ID)
	raw, ready, err := s.transport.FetchAcknowledgment(ctx, rec.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "acknowledgment fetch failed", append(requestcontext.LogAttrs(ctx), "error", err)...)
		return rec, false, err
	}
	if !ready {
		return rec, false, nil
	}
	rec, err = s.ProcessAcknowledgment(ctx, subID, raw)
	return rec, true, err
}

// HandleFailure records err against a PENDING or TRANSMITTED submission and
// applies the retry policy of category.
func (s *Service) HandleFailure(ctx context.Context, subID id.SubmissionID, failure error, category retry.Category) (*models.Submission, error) {
	if failure == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "failure is required")
	}
	rec, err := s.load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.CanTransitionTo(models.StatusError) {
		return rec, invalidState(rec, "record a failure on")
	}
	ctx = requestcontext.WithSubmissionID(ctx, rec.ID)
	if err := s.fail(ctx, rec, failure, category, nil); err != nil {
		return rec, err
	}
	return rec, nil
}

// Cancel stops a PENDING submission. Any other status is refused.
func (s *Service) Cancel(ctx context.Context, subID id.SubmissionID, reason string) (*models.Submission, error) {
	rec, err := s.load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPending {
		return rec, invalidState(rec, "cancel")
	}
	ctx = requestcontext.WithSubmissionID(ctx, rec.ID)
	scheduled := rec.NextAttemptAt != nil
	entry := models.HistoryEntry{Type: models.EventCancelled, ToStatus: models.StatusCancelled, Detail: reason}
	if err := s.transition(ctx, rec, entry, audit.ActionSubmissionCancelled, func(r *models.Submission) {
		r.NextAttemptAt = nil
	}); err != nil {
		return rec, err
	}
	if scheduled {
		s.metrics.RetryDequeued()
		if s.scheduler != nil {
			if err := s.scheduler.Cancel(ctx, rec.ID); err != nil {
				s.logger.WarnContext(ctx, "failed to cancel scheduled retry", append(requestcontext.LogAttrs(ctx), "error", err)...)
			}
		}
	}
	return rec, nil
}

// RetryDue transmits PENDING submissions whose retry time has passed. It is
// the fallback when no scheduler is configured and the recovery path after a
// restart. Returns how many were attempted.
func (s *Service) RetryDue(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ListByStatus(ctx, models.StatusPending, limit)
	if err != nil {
		return 0, err
	}
	now := s.clock(ctx)
	var n int
	for _, rec := range pending {
		if rec.NextAttemptAt == nil || rec.NextAttemptAt.After(now) {
			continue
		}
		n++
		if _, err := s.Transmit(ctx, rec.ID); err != nil && ctx.Err() != nil {
			return n, ctx.Err()
		}
	}
	return n, nil
}

// ResubmissionDepth counts how many resubmissions precede subID along the
// ResubmissionOf chain.
func (s *Service) ResubmissionDepth(ctx context.Context, subID id.SubmissionID) (int, error) {
	seen := map[id.SubmissionID]bool{}
	depth := 0
	cur := subID
	for {
		if seen[cur] {
			return depth, dErrors.New(dErrors.CodeInvariantViolation, "resubmission chain loops")
		}
		seen[cur] = true
		rec, err := s.load(ctx, cur)
		if err != nil {
			return depth, err
		}
		if rec.ResubmissionOf == nil {
			return depth, nil
		}
		depth++
		cur = *rec.ResubmissionOf
	}
}

// fail enters ERROR, then either schedules a retry (PENDING) or gives up
// (FAILED) and raises exactly one alert.
func (s *Service) fail(ctx context.Context, rec *models.Submission, failure error, category retry.Category, mutate func(*models.Submission)) error {
	// the failure is recorded even when the caller's context is already done
	ctx = context.WithoutCancel(ctx)

	cls := s.classifier.Classify(failure, category)
	s.metrics.IncFailure(string(category), cls.IsRetryable)
	s.logger.Log(ctx, cls.Severity.Level(), "submission failure",
		append(requestcontext.LogAttrs(ctx),
			"error_type", cls.Type,
			"category", string(cls.Category),
			"severity", string(cls.Severity),
			"retryable", cls.IsRetryable,
			"error", cls.Message,
		)...)

	entry := models.HistoryEntry{Type: models.EventFailure, ToStatus: models.StatusError, Detail: cls.Type + ": " + cls.Message}
	err := s.transition(ctx, rec, entry, audit.ActionSubmissionErrored, func(r *models.Submission) {
		if mutate != nil {
			mutate(r)
		}
		r.RetryCount++
		r.ErrorDetails = &models.ErrorDetails{
			Type:      cls.Type,
			Category:  string(cls.Category),
			Severity:  string(cls.Severity),
			Message:   cls.Message,
			Retryable: cls.IsRetryable,
		}
	})
	if err != nil {
		return err
	}

	if s.classifier.ShouldRetry(cls, rec.RetryCount) {
		at := s.clock(ctx).Add(s.classifier.Backoff(category, rec.RetryCount))
		entry := models.HistoryEntry{
			Type:     models.EventRetryScheduled,
			ToStatus: models.StatusPending,
			Detail:   fmt.Sprintf("retry %d at %s", rec.RetryCount, at.UTC().Format(time.RFC3339)),
		}
		if err := s.transition(ctx, rec, entry, audit.ActionRetryScheduled, func(r *models.Submission) {
			r.NextAttemptAt = &at
		}); err != nil {
			return err
		}
		s.metrics.RetryScheduled()
		if s.scheduler != nil {
			if err := s.scheduler.Schedule(ctx, rec.ID, at); err != nil {
				// RetryDue still picks the record up from the store
				s.logger.WarnContext(ctx, "failed to schedule retry", append(requestcontext.LogAttrs(ctx), "error", err)...)
			}
		}
		return nil
	}

	entry = models.HistoryEntry{Type: models.EventFailed, ToStatus: models.StatusFailed, Detail: cls.Type + ": " + cls.Message}
	if err := s.transition(ctx, rec, entry, audit.ActionSubmissionFailed, nil); err != nil {
		return err
	}
	s.alert(ctx, rec, cls)
	return nil
}

func (s *Service) alert(ctx context.Context, rec *models.Submission, cls retry.Classification) {
	alert := alerting.Alert{
		Type:         "submission_failed",
		Severity:     cls.Severity,
		SubmissionID: rec.ID.String(),
		Timestamp:    rec.UpdatedAt,
		Details: map[string]string{
			"form_type":   string(rec.FormType),
			"error_type":  cls.Type,
			"category":    string(cls.Category),
			"message":     cls.Message,
			"retry_count": fmt.Sprint(rec.RetryCount),
		},
	}
	s.metrics.IncAlerts()
	if err := s.alerter.TriggerAlert(ctx, alert); err != nil {
		s.logger.ErrorContext(ctx, "alert delivery failed", append(requestcontext.LogAttrs(ctx), "error", err)...)
	}
}

// transition applies one history entry through a single UpdateStatus
// compare-and-set. On success rec is replaced by the stored state.
func (s *Service) transition(ctx context.Context, rec *models.Submission, entry models.HistoryEntry, action audit.Action, mutate func(*models.Submission)) error {
	from := rec.Status
	if !from.CanTransitionTo(entry.ToStatus) {
		return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
			fmt.Sprintf("illegal transition %s -> %s", from, entry.ToStatus))
	}
	next := rec.Clone()
	if mutate != nil {
		mutate(next)
	}
	entry.Timestamp = s.clock(ctx)
	next.Record(entry)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, next, from); err != nil {
			return err
		}
		return s.emit(ctx, next, next.History[len(next.History)-1], action)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "submission changed concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update submission status")
	}
	*rec = *next
	s.metrics.ObserveTransition(string(from), string(entry.ToStatus))
	s.logger.DebugContext(ctx, "submission transition", append(requestcontext.LogAttrs(ctx),
		"from", string(from), "to", string(entry.ToStatus), "event", string(entry.Type))...)
	return nil
}

func (s *Service) emit(ctx context.Context, rec *models.Submission, entry models.HistoryEntry, action audit.Action) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, audit.Event{
		Action:       action,
		Timestamp:    entry.Timestamp,
		SubmissionID: rec.ID,
		FromStatus:   string(entry.FromStatus),
		ToStatus:     string(entry.ToStatus),
		Detail:       entry.Detail,
	})
}

func (s *Service) load(ctx context.Context, subID id.SubmissionID) (*models.Submission, error) {
	rec, err := s.repo.Load(ctx, subID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "submission not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load submission")
	}
	return rec, nil
}

func invalidState(rec *models.Submission, op string) error {
	return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
		fmt.Sprintf("cannot %s submission in status %s", op, rec.Status))
}

// asTransmissionFailure keeps typed failures (for example authentication
// errors) as they are and wraps anything else.
func asTransmissionFailure(err error, msg string) error {
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return err
	}
	return &retry.TransmissionFailure{Message: msg, Err: err}
}

func lastTransmission(rec *models.Submission) time.Time {
	for i := len(rec.History) - 1; i >= 0; i-- {
		if rec.History[i].Type == models.EventTransmitted {
			return rec.History[i].Timestamp
		}
	}
	return time.Time{}
}
