package forms

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"efile/internal/document"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
	"efile/pkg/requestcontext"
)

// Input is a typed record for one form. Each form has its own struct.
type Input interface {
	FormType() FormType
}

// Builder renders the body of one form type.
type Builder interface {
	FormType() FormType
	// RequiredFields lists the paths that must be supplied for Build to succeed.
	RequiredFields() []string
	Build(in Input, w *Writer) error
}

// bodyBuilder adapts a typed body function to Builder. Inputs may be passed by
// value or by pointer.
type bodyBuilder[T Input] struct {
	formType FormType
	body     func(in T, w *Writer)
}

func (b bodyBuilder[T]) FormType() FormType { return b.formType }

func (b bodyBuilder[T]) Build(in Input, w *Writer) error {
	typed, ok := cast[T](in)
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s builder cannot use input %T", b.formType, in)
	}
	b.body(typed, w)
	return nil
}

// RequiredFields dry-runs the body against an empty input.
func (b bodyBuilder[T]) RequiredFields() []string {
	var zero T
	w := newWriter(document.NewNode(string(b.formType)))
	b.body(zero, w)
	return slices.Clone(w.Missing())
}

func cast[T Input](in Input) (T, bool) {
	switch v := any(in).(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

func register[T Input](ft FormType, body func(T, *Writer)) Builder {
	return bodyBuilder[T]{formType: ft, body: body}
}

// builders is the dispatch table. Keys cover every template.
var builders = map[FormType]Builder{
	Form1040:   register(Form1040, build1040),
	Form1040SR: register(Form1040SR, build1040SR),
	Form1040NR: register(Form1040NR, build1040NR),
	Form1040X:  register(Form1040X, build1040X),

	Schedule1:    register(Schedule1, buildSchedule1),
	Schedule2:    register(Schedule2, buildSchedule2),
	Schedule3:    register(Schedule3, buildSchedule3),
	ScheduleA:    register(ScheduleA, buildScheduleA),
	ScheduleB:    register(ScheduleB, buildScheduleB),
	ScheduleC:    register(ScheduleC, buildScheduleC),
	ScheduleD:    register(ScheduleD, buildScheduleD),
	ScheduleE:    register(ScheduleE, buildScheduleE),
	ScheduleF:    register(ScheduleF, buildScheduleF),
	ScheduleH:    register(ScheduleH, buildScheduleH),
	ScheduleSE:   register(ScheduleSE, buildScheduleSE),
	Schedule8812: register(Schedule8812, buildSchedule8812),

	Form8949:    register(Form8949, build8949),
	Form2555:    register(Form2555, build2555),
	Form1116:    register(Form1116, build1116),
	Form8995:    register(Form8995, build8995),
	Form4562:    register(Form4562, build4562),
	Form8829:    register(Form8829, build8829),
	Form2441:    register(Form2441, build2441),
	Form8863:    register(Form8863, build8863),
	Form8962:    register(Form8962, build8962),
	FormW2:      register(FormW2, buildW2),
	Form1099NEC: register(Form1099NEC, build1099NEC),
}

// Lookup returns the builder for ft.
func Lookup(ft FormType) (Builder, error) {
	b, ok := builders[ft]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "no builder for form type %q", ft)
	}
	return b, nil
}

// IncompleteInputError is returned when required fields are absent. The input
// must be completed by the caller; it is never retried.
type IncompleteInputError struct {
	FormType FormType
	Paths    []string
}

func (e *IncompleteInputError) Error() string {
	if len(e.Paths) == 1 {
		return fmt.Sprintf("%s: missing required field %s", e.FormType, e.Paths[0])
	}
	return fmt.Sprintf("%s: missing required field %s (and %d more: %s)",
		e.FormType, e.Paths[0], len(e.Paths)-1, strings.Join(e.Paths[1:], ", "))
}

func (e *IncompleteInputError) DomainCode() dErrors.Code { return dErrors.CodeIncompleteInput }

// Service assembles complete documents: the shared header plus a body from the
// form's builder.
type Service struct {
	softwareID string
	clock      func(ctx context.Context) time.Time
	logger     *slog.Logger
}

type Option func(*Service)

// WithSoftwareID sets the MeF software identifier stamped into every header.
func WithSoftwareID(sid string) Option {
	return func(s *Service) { s.softwareID = sid }
}

// WithClock overrides the timestamp source. The default reads requestcontext.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.clock = func(context.Context) time.Time { return now() }
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(opts ...Option) *Service {
	s := &Service{
		softwareID: "EFILE000",
		clock:      requestcontext.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build renders one form as a standalone return document.
func (s *Service) Build(ctx context.Context, ft FormType, taxYear id.TaxYear, in Input) (*document.Document, error) {
	tmpl, ok := Template(ft)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unsupported form type %q", ft)
	}
	if in == nil {
		return nil, &IncompleteInputError{FormType: ft, Paths: []string{string(ft)}}
	}
	if in.FormType() != ft {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "input for %s passed to %s builder", in.FormType(), ft)
	}
	b, err := Lookup(ft)
	if err != nil {
		return nil, err
	}

	body := document.NewNode(string(ft))
	w := newWriter(body)
	if err := b.Build(in, w); err != nil {
		return nil, err
	}
	if missing := w.Missing(); len(missing) > 0 {
		s.logger.DebugContext(ctx, "form input incomplete",
			slog.String("form_type", string(ft)),
			slog.Any("missing", missing),
		)
		return nil, &IncompleteInputError{FormType: ft, Paths: slices.Clone(missing)}
	}

	return document.New(s.header(ctx, tmpl, taxYear), body), nil
}

func (s *Service) header(ctx context.Context, tmpl TemplateSpec, taxYear id.TaxYear) document.Header {
	year := int(taxYear)
	return document.Header{
		Timestamp:     s.clock(ctx).UTC().Truncate(time.Second),
		TaxYear:       taxYear,
		PeriodBegin:   time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
		ReturnType:    tmpl.ReturnType,
		FormType:      string(tmpl.FormType),
		SoftwareID:    s.softwareID,
		SchemaVersion: tmpl.SchemaVersion,
	}
}

// RequiredFields returns the required paths for ft.
func (s *Service) RequiredFields(ft FormType) ([]string, error) {
	b, err := Lookup(ft)
	if err != nil {
		return nil, err
	}
	return b.RequiredFields(), nil
}

// Compose attaches the bodies of schedule documents to a primary return in the
// given order. The primary's header is kept; schedule headers are discarded.
func Compose(primary *document.Document, attachments ...*document.Document) *document.Document {
	bodies := make([]*document.Node, 0, len(attachments))
	for _, a := range attachments {
		bodies = append(bodies, a.Bodies()...)
	}
	return primary.Attach(bodies...)
}
