// Package handler exposes the operations HTTP surface: health, metrics,
// submission status and the acknowledgment push endpoint.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"efile/internal/submission/models"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
	"efile/pkg/platform/httputil"
	"efile/pkg/platform/middleware/admin"
	"efile/pkg/platform/middleware/request"
	"efile/pkg/requestcontext"
)

// maxAckBytes bounds a pushed acknowledgment body.
const maxAckBytes = 1 << 20

// Service is the slice of the submission tracker the handler needs.
type Service interface {
	Get(ctx context.Context, subID id.SubmissionID) (*models.Submission, error)
	List(ctx context.Context, status models.Status, limit int) ([]*models.Submission, error)
	Cancel(ctx context.Context, subID id.SubmissionID, reason string) (*models.Submission, error)
	ProcessAcknowledgment(ctx context.Context, subID id.SubmissionID, raw []byte) (*models.Submission, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

type Handler struct {
	svc      Service
	verifier admin.HeaderVerifier
	gatherer prometheus.Gatherer
	checks   map[string]Check
	logger   *slog.Logger
}

type Option func(*Handler)

// WithVerifier guards the write endpoints. Without one they are not mounted.
func WithVerifier(v admin.HeaderVerifier) Option {
	return func(h *Handler) { h.verifier = v }
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

func WithCheck(name string, check Check) Option {
	return func(h *Handler) { h.checks[name] = check }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func New(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:      svc,
		gatherer: prometheus.DefaultGatherer,
		checks:   map[string]Check{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(h.logger))
	r.Use(request.Context)
	r.Use(request.Logger(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/submissions", h.handleList)
		r.Get("/submissions/{id}", h.handleGet)
		r.Get("/submissions/{id}/history", h.handleHistory)
		if h.verifier != nil {
			r.Group(func(r chi.Router) {
				r.Use(admin.RequireBearer(h.verifier, h.logger))
				r.Post("/submissions/{id}/cancel", h.handleCancel)
				r.Post("/acknowledgments/{id}", h.handleAcknowledgment)
			})
		}
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	result := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": result})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	subID, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Get(r.Context(), subID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toView(rec))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	subID, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Get(r.Context(), subID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec.History)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusPending
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	recs, err := h.svc.List(r.Context(), status, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]submissionView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, toView(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	subID, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Cancel(r.Context(), subID, r.URL.Query().Get("reason"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toView(rec))
}

// handleAcknowledgment applies a pushed acknowledgment. A malformed or
// unverifiable body is still recorded against the submission; the response
// then carries the failure with the resulting state.
func (h *Handler) handleAcknowledgment(w http.ResponseWriter, r *http.Request) {
	subID, ok := parseID(w, r)
	if !ok {
		return
	}
	ctx := requestcontext.WithSubmissionID(r.Context(), subID)
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAckBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "acknowledgment body unreadable or too large"))
		return
	}
	rec, err := h.svc.ProcessAcknowledgment(ctx, subID, raw)
	if err != nil {
		if rec == nil || dErrors.HasCode(err, dErrors.CodeConflict) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.WarnContext(ctx, "acknowledgment recorded as failure", append(requestcontext.LogAttrs(ctx), "error", err)...)
		httputil.WriteJSON(w, http.StatusAccepted, toView(rec))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toView(rec))
}

func parseID(w http.ResponseWriter, r *http.Request) (id.SubmissionID, bool) {
	subID, err := id.ParseSubmissionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid submission id"))
		return id.SubmissionID{}, false
	}
	return subID, true
}

type submissionView struct {
	ID                   string               `json:"id"`
	FormType             string               `json:"form_type"`
	TaxYear              int                  `json:"tax_year"`
	Status               models.Status        `json:"status"`
	TransmissionAttempts int                  `json:"transmission_attempts"`
	RetryCount           int                  `json:"retry_count"`
	ErrorDetails         *models.ErrorDetails `json:"error_details,omitempty"`
	NextAttemptAt        *time.Time           `json:"next_attempt_at,omitempty"`
	AmendmentOf          string               `json:"amendment_of,omitempty"`
	ResubmissionOf       string               `json:"resubmission_of,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

func toView(rec *models.Submission) submissionView {
	v := submissionView{
		ID:                   rec.ID.String(),
		FormType:             string(rec.FormType),
		TaxYear:              rec.TaxYear,
		Status:               rec.Status,
		TransmissionAttempts: rec.TransmissionAttempts,
		RetryCount:           rec.RetryCount,
		ErrorDetails:         rec.ErrorDetails,
		NextAttemptAt:        rec.NextAttemptAt,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}
	if rec.AmendmentOf != nil {
		v.AmendmentOf = rec.AmendmentOf.String()
	}
	if rec.ResubmissionOf != nil {
		v.ResubmissionOf = rec.ResubmissionOf.String()
	}
	return v
}
