// Package pipeline drives one return from typed input to MeF: build, schema
// validation, cross-schedule consistency, optimization, signing, recording and
// transmission. Every entry point reports through a Result; nothing escapes as
// a raw error or panic.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"efile/internal/consistency"
	"efile/internal/credential"
	"efile/internal/document"
	"efile/internal/forms"
	"efile/internal/optimizer"
	"efile/internal/retry"
	"efile/internal/schedules"
	"efile/internal/schema"
	"efile/internal/signer"
	"efile/internal/submission/metrics"
	"efile/internal/submission/models"
	"efile/internal/submission/service"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
	"efile/pkg/requestcontext"
)

const tracerName = "efile/internal/pipeline"

// Stage names used for spans and the stage duration histogram.
const (
	StageBuild       = "build"
	StageSchema      = "schema"
	StageConsistency = "consistency"
	StageOptimize    = "optimize"
	StageSign        = "sign"
	StageRecord      = "record"
	StageTransmit    = "transmit"
)

// Tracker is the part of the submission tracker the pipeline drives.
type Tracker interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.Submission, error)
	Transmit(ctx context.Context, subID id.SubmissionID) (*models.Submission, error)
	HandleFailure(ctx context.Context, subID id.SubmissionID, failure error, category retry.Category) (*models.Submission, error)
	Get(ctx context.Context, subID id.SubmissionID) (*models.Submission, error)
	ResubmissionDepth(ctx context.Context, subID id.SubmissionID) (int, error)
}

// CredentialSource yields the transmitter credential in force.
type CredentialSource interface {
	Current() (*credential.Credential, error)
}

// Request is a return described by typed form inputs.
type Request struct {
	TaxYear     id.TaxYear
	Primary     forms.Input
	Attachments []forms.Input
	// Facts, when set, name the schedules the return must carry; a required
	// schedule absent from Attachments fails the request as incomplete.
	Facts *schedules.TaxpayerFacts
}

// DocumentRequest is an already serialized return. FormType and Version are
// detected from the document when empty.
type DocumentRequest struct {
	Data        []byte
	FormType    forms.FormType
	Version     string
	AmendmentOf *id.SubmissionID
}

// ErrorDetail is one problem reported for a request.
type ErrorDetail struct {
	Code    dErrors.Code `json:"code"`
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
}

// Result is the outcome of one request. SubmissionID is zero when the request
// failed before a submission could be recorded.
type Result struct {
	SubmissionID id.SubmissionID
	Status       models.Status
	Errors       []ErrorDetail
	Outcome      document.ValidationOutcome
}

// OK reports whether the request went through without any error.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Deps are the stage implementations. Resolver defaults to the shipped graph.
type Deps struct {
	Forms       *forms.Service
	Schemas     *schema.Registry
	Resolver    *schedules.Resolver
	Calculator  *consistency.Calculator
	Optimizer   *optimizer.Optimizer
	Signer      *signer.Signer
	Credentials CredentialSource
	Tracker     Tracker
}

type Pipeline struct {
	deps        Deps
	classifier  *retry.Classifier
	concurrency int
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Pipeline)

// WithBatchConcurrency bounds how many requests of a batch run at once.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClassifier supplies the retry policies; the VALIDATION budget limits
// resubmissions.
func WithClassifier(c *retry.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer(tracerName) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func New(deps Deps, opts ...Option) (*Pipeline, error) {
	var missing []string
	if deps.Forms == nil {
		missing = append(missing, "forms")
	}
	if deps.Schemas == nil {
		missing = append(missing, "schemas")
	}
	if deps.Calculator == nil {
		missing = append(missing, "calculator")
	}
	if deps.Optimizer == nil {
		missing = append(missing, "optimizer")
	}
	if deps.Signer == nil {
		missing = append(missing, "signer")
	}
	if deps.Credentials == nil {
		missing = append(missing, "credentials")
	}
	if deps.Tracker == nil {
		missing = append(missing, "tracker")
	}
	if len(missing) > 0 {
		return nil, dErrors.Newf(dErrors.CodeConfiguration, "pipeline is missing %v", missing)
	}
	if deps.Resolver == nil {
		r, err := schedules.NewResolver()
		if err != nil {
			return nil, err
		}
		deps.Resolver = r
	}

	p := &Pipeline{
		deps:        deps,
		classifier:  retry.NewClassifier(),
		concurrency: 8,
		tracer:      otel.Tracer(tracerName),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// job is a composed document on its way to MeF.
type job struct {
	formType       forms.FormType
	taxYear        int
	version        string
	doc            *document.Document
	outcome        document.ValidationOutcome
	amendmentOf    *id.SubmissionID
	resubmissionOf *id.SubmissionID
}

// Submit builds the return from typed inputs and takes it through every stage.
func (p *Pipeline) Submit(ctx context.Context, req Request) (res Result) {
	defer p.guard(ctx, &res)
	return p.submit(ctx, req, nil)
}

// SubmitBatch runs Submit for every request, at most the configured number at
// a time. Results are in request order.
func (p *Pipeline) SubmitBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.Submit(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Resubmit files corrected input for a submission that failed. Resubmissions
// are chained through ResubmissionOf and limited by the VALIDATION retry budget.
func (p *Pipeline) Resubmit(ctx context.Context, previousID id.SubmissionID, req Request) (res Result) {
	defer p.guard(ctx, &res)

	prev, err := p.deps.Tracker.Get(ctx, previousID)
	if err != nil {
		return errorResult(err)
	}
	if prev.Status != models.StatusFailed && prev.Status != models.StatusRejected {
		return errorResult(dErrors.Newf(dErrors.CodeConflict,
			"submission %s is %s; only FAILED or REJECTED submissions can be resubmitted", prev.ID, prev.Status))
	}
	depth, err := p.deps.Tracker.ResubmissionDepth(ctx, previousID)
	if err != nil {
		return errorResult(err)
	}
	if limit := p.classifier.Policy(retry.CategoryValidation).MaxRetries; depth+1 > limit {
		return errorResult(dErrors.Newf(dErrors.CodeConflict,
			"resubmission limit of %d reached for submission %s", limit, previousID))
	}
	return p.submit(ctx, req, &previousID)
}

// SubmitDocument takes a serialized return through validation and onwards.
// Gzip input is accepted.
func (p *Pipeline) SubmitDocument(ctx context.Context, req DocumentRequest) (res Result) {
	defer p.guard(ctx, &res)

	data := req.Data
	if optimizer.IsCompressed(data) {
		plain, err := optimizer.Decompress(data)
		if err != nil {
			return errorResult(err)
		}
		data = plain
	}
	ft, version := req.FormType, req.Version
	if ft == "" || version == "" {
		det, err := p.deps.Schemas.DetectVersion(data)
		if err != nil {
			return errorResult(dErrors.Wrap(err, dErrors.CodeInvalidInput, "document is not well-formed"))
		}
		if ft == "" {
			ft = det.FormType
		}
		if version == "" {
			version = det.Version
		}
	}
	if ft == forms.Unknown {
		return errorResult(dErrors.New(dErrors.CodeInvalidInput, "document carries no known form"))
	}

	j := &job{formType: ft, version: version, amendmentOf: req.AmendmentOf}
	err := p.stage(ctx, StageSchema, func(ctx context.Context) error {
		out, err := p.deps.Schemas.Validate(ctx, data, ft, version)
		j.outcome = out
		return err
	})
	if err != nil {
		return p.fatal(ctx, j, StageSchema, err)
	}
	if !j.outcome.IsValid {
		return p.rejectInvalid(ctx, j)
	}
	doc, err := document.ParseDocument(data)
	if err != nil {
		return p.fatal(ctx, j, StageSchema, err)
	}
	j.doc = doc
	j.taxYear = int(doc.Header.TaxYear)
	return p.deliver(ctx, j)
}

func (p *Pipeline) submit(ctx context.Context, req Request, resubmissionOf *id.SubmissionID) Result {
	if req.Primary == nil {
		return errorResult(dErrors.New(dErrors.CodeInvalidInput, "a primary form is required"))
	}
	j := &job{
		formType:       req.Primary.FormType(),
		taxYear:        int(req.TaxYear),
		resubmissionOf: resubmissionOf,
	}
	err := p.stage(ctx, StageBuild, func(ctx context.Context) error {
		doc, err := p.build(ctx, req)
		j.doc = doc
		return err
	})
	if err != nil {
		return p.fatal(ctx, j, StageBuild, err)
	}
	j.version = j.doc.Header.SchemaVersion

	err = p.stage(ctx, StageSchema, func(ctx context.Context) error {
		out, err := p.deps.Schemas.ValidateDocument(ctx, j.doc, j.formType, j.version)
		j.outcome = out
		return err
	})
	if err != nil {
		return p.fatal(ctx, j, StageSchema, err)
	}
	if !j.outcome.IsValid {
		return p.rejectInvalid(ctx, j)
	}
	return p.deliver(ctx, j)
}

// build renders every form, checks the attachments against the facts and
// composes them in dependency order.
func (p *Pipeline) build(ctx context.Context, req Request) (*document.Document, error) {
	primaryType := req.Primary.FormType()
	supplied := make(map[forms.FormType]bool, len(req.Attachments))
	for _, in := range req.Attachments {
		if in == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "attachment input is nil")
		}
		supplied[in.FormType()] = true
	}
	if req.Facts != nil {
		if want := schedules.Primary(*req.Facts); want != primaryType {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "facts call for %s, got %s", want, primaryType)
		}
		var missing []string
		for _, ft := range p.deps.Resolver.RequiredSchedules(*req.Facts).IDs() {
			if !supplied[ft] {
				missing = append(missing, string(ft))
			}
		}
		if len(missing) > 0 {
			return nil, &forms.IncompleteInputError{FormType: primaryType, Paths: missing}
		}
	}

	types := make([]forms.FormType, 0, len(supplied))
	for ft := range supplied {
		types = append(types, ft)
	}
	ordered, err := p.deps.Resolver.Order(types...)
	if err != nil {
		return nil, err
	}
	rank := make(map[forms.FormType]int, len(ordered))
	for i, ft := range ordered {
		rank[ft] = i
	}
	inputs := slices.Clone(req.Attachments)
	slices.SortStableFunc(inputs, func(a, b forms.Input) int {
		return rank[a.FormType()] - rank[b.FormType()]
	})

	primary, err := p.deps.Forms.Build(ctx, primaryType, req.TaxYear, req.Primary)
	if err != nil {
		return nil, err
	}
	attached := make([]*document.Document, 0, len(inputs))
	for _, in := range inputs {
		doc, err := p.deps.Forms.Build(ctx, in.FormType(), req.TaxYear, in)
		if err != nil {
			return nil, err
		}
		attached = append(attached, doc)
	}
	return forms.Compose(primary, attached...), nil
}

// deliver runs the consistency check, then optimizes, signs, records and
// transmits a schema-valid document.
func (p *Pipeline) deliver(ctx context.Context, j *job) Result {
	_ = p.stage(ctx, StageConsistency, func(ctx context.Context) error {
		out := p.deps.Calculator.CheckConsistency(ctx, consistency.ScheduleSetFromDocument(j.doc))
		j.outcome = j.outcome.Merge(out)
		return nil
	})
	if !j.outcome.IsValid {
		return p.rejectInvalid(ctx, j)
	}

	canonical := j.doc.Bytes()
	var payload optimizer.Optimized
	err := p.stage(ctx, StageOptimize, func(context.Context) error {
		var err error
		payload, err = p.deps.Optimizer.Optimize(canonical)
		return err
	})
	if err != nil {
		return p.fatal(ctx, j, StageOptimize, err)
	}

	var env signer.Envelope
	err = p.stage(ctx, StageSign, func(context.Context) error {
		cred, err := p.deps.Credentials.Current()
		if err != nil {
			return err
		}
		env, err = p.deps.Signer.Sign(payload.Data, cred)
		return err
	})
	if err != nil {
		return p.fatal(ctx, j, StageSign, err)
	}

	var rec *models.Submission
	err = p.stage(ctx, StageRecord, func(ctx context.Context) error {
		var err error
		rec, err = p.deps.Tracker.Create(ctx, p.createRequest(j, canonical, env))
		return err
	})
	if err != nil {
		return errorResult(err)
	}
	res := Result{SubmissionID: rec.ID, Status: rec.Status, Outcome: j.outcome}
	ctx = requestcontext.WithSubmissionID(ctx, rec.ID)

	_ = p.stage(ctx, StageTransmit, func(ctx context.Context) error {
		after, err := p.deps.Tracker.Transmit(ctx, rec.ID)
		if after != nil {
			res.Status = after.Status
		}
		if err != nil {
			res.Errors = append(res.Errors, detail(err))
		}
		return err
	})
	p.logger.InfoContext(ctx, "return submitted", append(requestcontext.LogAttrs(ctx),
		"form_type", string(j.formType),
		"status", string(res.Status),
		"compressed", payload.Compressed,
	)...)
	return res
}

func (p *Pipeline) createRequest(j *job, canonical []byte, env signer.Envelope) service.CreateRequest {
	return service.CreateRequest{
		FormType:       j.formType,
		TaxYear:        j.taxYear,
		XMLContent:     canonical,
		Envelope:       env,
		AmendmentOf:    j.amendmentOf,
		ResubmissionOf: j.resubmissionOf,
	}
}

// rejectInvalid records a document that failed validation. The submission
// goes straight to FAILED; corrected input comes back through Resubmit.
func (p *Pipeline) rejectInvalid(ctx context.Context, j *job) Result {
	failure := &retry.ValidationFailure{Outcome: j.outcome}
	res := p.record(ctx, j, failure, retry.CategoryValidation)
	res.Outcome = j.outcome
	res.Errors = res.Errors[:0]
	for _, msg := range j.outcome.Messages() {
		res.Errors = append(res.Errors, ErrorDetail{Code: dErrors.CodeValidation, Kind: failure.Kind(), Message: msg})
	}
	return res
}

// fatal records a failure that stops the request before transmission.
func (p *Pipeline) fatal(ctx context.Context, j *job, stage string, err error) Result {
	terminal := terminalError(stage, err)
	category := retry.CategoryValidation
	if code := dErrors.CodeOf(terminal); code == dErrors.CodeConfiguration || code == dErrors.CodeInvariantViolation {
		category = retry.CategorySystem
	}
	res := p.record(ctx, j, terminal, category)
	res.Errors = []ErrorDetail{detail(err)}
	return res
}

// record stores a submission for j and hands failure to the tracker, which
// moves it through ERROR to FAILED.
func (p *Pipeline) record(ctx context.Context, j *job, failure error, category retry.Category) Result {
	res := Result{Status: models.StatusFailed, Errors: []ErrorDetail{detail(failure)}}
	if j.formType == "" || j.formType == forms.Unknown {
		return res
	}
	req := service.CreateRequest{
		FormType:       j.formType,
		TaxYear:        j.taxYear,
		AmendmentOf:    j.amendmentOf,
		ResubmissionOf: j.resubmissionOf,
	}
	if j.doc != nil {
		req.XMLContent = j.doc.Bytes()
	}
	rec, err := p.deps.Tracker.Create(ctx, req)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to record rejected return", "error", err)
		return res
	}
	res.SubmissionID = rec.ID
	res.Status = rec.Status
	after, err := p.deps.Tracker.HandleFailure(ctx, rec.ID, failure, category)
	if after != nil {
		res.Status = after.Status
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to record failure", "submission_id", rec.ID.String(), "error", err)
	}
	return res
}

// terminalError makes sure a pre-transmission failure is never retried: it
// keeps errors whose code the classifier already refuses and re-codes the rest.
func terminalError(stage string, err error) error {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeIncompleteInput, dErrors.CodeValidation, dErrors.CodeConfiguration,
		dErrors.CodeInvariantViolation, dErrors.CodeUnauthorized, dErrors.CodeForbidden:
		return err
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return dErrors.Wrap(err, dErrors.CodeValidation, stage+" rejected the input")
	default:
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, stage+" failed")
	}
}

// stage runs fn in its own span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()
	if subID := requestcontext.SubmissionID(ctx); !subID.IsNil() {
		span.SetAttributes(attribute.String("submission_id", subID.String()))
	}

	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) guard(ctx context.Context, res *Result) {
	r := recover()
	if r == nil {
		return
	}
	p.logger.ErrorContext(ctx, "pipeline panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	res.Status = models.StatusFailed
	res.Errors = append(res.Errors, ErrorDetail{
		Code:    dErrors.CodeInternal,
		Kind:    "panic",
		Message: "internal error",
	})
}

func errorResult(err error) Result {
	return Result{Errors: []ErrorDetail{detail(err)}}
}

func detail(err error) ErrorDetail {
	d := ErrorDetail{Code: dErrors.CodeOf(err), Kind: string(dErrors.CodeOf(err)), Message: err.Error()}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		d.Kind = k.Kind()
	}
	return d
}
