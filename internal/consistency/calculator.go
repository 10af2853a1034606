package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"efile/internal/document"
	"efile/pkg/requestcontext"
)

// Defaults for the consistency policy.
var (
	DefaultTolerance = decimal.RequireFromString("0.01")

	// SelfEmploymentEarningsRate is the share of SE income subject to tax.
	SelfEmploymentEarningsRate = decimal.RequireFromString("0.9235")
)

const DefaultRateMaxAge = 24 * time.Hour

// ExchangeRate is USD per unit of Currency as published at AsOf.
type ExchangeRate struct {
	Currency string          `json:"currency" yaml:"currency"`
	Rate     decimal.Decimal `json:"rate" yaml:"rate"`
	AsOf     time.Time       `json:"as_of" yaml:"as_of"`
}

// RateSource looks up the latest exchange-rate record for a currency.
type RateSource interface {
	Rate(currency string) (ExchangeRate, bool)
}

// StaticRates is a fixed rate table keyed by ISO currency code.
type StaticRates map[string]ExchangeRate

func (r StaticRates) Rate(currency string) (ExchangeRate, bool) {
	rate, ok := r[currency]
	return rate, ok
}

// Calculator applies the rule set to schedule sets. It holds no per-return
// state and is safe for concurrent use.
type Calculator struct {
	rules      []Rule
	tolerance  decimal.Decimal
	rateMaxAge time.Duration
	rates      RateSource
	logger     *slog.Logger
}

type Option func(*Calculator)

// WithTolerance sets the inclusive tolerance for aggregation rules.
func WithTolerance(t decimal.Decimal) Option {
	return func(c *Calculator) { c.tolerance = t.Abs() }
}

func WithRateMaxAge(d time.Duration) Option {
	return func(c *Calculator) { c.rateMaxAge = d }
}

func WithRates(rates RateSource) Option {
	return func(c *Calculator) { c.rates = rates }
}

func WithRules(rules []Rule) Option {
	return func(c *Calculator) { c.rules = rules }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) { c.logger = logger }
}

func New(opts ...Option) *Calculator {
	c := &Calculator{
		rules:      DefaultRules(),
		tolerance:  DefaultTolerance,
		rateMaxAge: DefaultRateMaxAge,
		rates:      StaticRates{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Totals sums the classified amounts of every schedule in set.
func (c *Calculator) Totals(set ScheduleSet) TotalsSummary {
	return Totals(set)
}

// CheckConsistency runs every rule and collects every violation. Exchange-rate
// age is measured against the unit-of-work time in ctx.
func (c *Calculator) CheckConsistency(ctx context.Context, set ScheduleSet) document.ValidationOutcome {
	e := &evaluation{
		calc: c,
		set:  set,
		now:  requestcontext.Now(ctx),
		out:  document.Valid(),
	}
	for _, r := range c.rules {
		e.rule = r
		r.eval(e)
	}
	if !e.out.IsValid {
		c.logger.InfoContext(ctx, "consistency check failed",
			append(requestcontext.LogAttrs(ctx), "violations", len(e.out.ConsistencyErrors))...,
		)
	}
	return e.out
}

// evaluation is the state of one CheckConsistency pass.
type evaluation struct {
	calc *Calculator
	set  ScheduleSet
	now  time.Time
	rule Rule
	out  document.ValidationOutcome
}

func (e *evaluation) total(refs []ref) (decimal.Decimal, []ScheduleID) {
	total := decimal.Zero
	var found []ScheduleID
	for _, r := range refs {
		for _, sch := range e.set.OfType(r.types...) {
			total = total.Add(sumAt(sch.Body, r.path))
			found = append(found, sch.ID)
		}
	}
	return total, found
}

// compare records a violation when actual does not satisfy the current rule
// against expected. For limit rules expected is the upper bound.
func (e *evaluation) compare(schedules []ScheduleID, expected, actual decimal.Decimal, msg string) {
	diff := actual.Sub(expected)
	switch e.rule.Kind {
	case KindTransfer:
		if diff.IsZero() {
			return
		}
	case KindAggregation:
		if diff.Abs().LessThanOrEqual(e.calc.tolerance) {
			return
		}
	case KindLimit:
		if !diff.IsPositive() {
			return
		}
	}
	e.out.AddConsistency(document.ConsistencyError{
		Rule:       e.rule.Name,
		Schedules:  scheduleNames(schedules),
		Expected:   document.FormatAmount(expected),
		Actual:     document.FormatAmount(actual),
		Difference: document.FormatAmount(diff.Abs()),
		Message:    msg,
	})
}

func (e *evaluation) fail(schedules []ScheduleID, msg string) {
	e.out.AddConsistency(document.ConsistencyError{
		Rule:      e.rule.Name,
		Schedules: scheduleNames(schedules),
		Message:   msg,
	})
}

func (e *evaluation) rate(currency string) (ExchangeRate, error) {
	rate, ok := e.calc.rates.Rate(currency)
	if !ok || !rate.Rate.IsPositive() {
		return ExchangeRate{}, fmt.Errorf("no exchange rate for %s", currency)
	}
	if age := e.now.Sub(rate.AsOf); age > e.calc.rateMaxAge {
		return ExchangeRate{}, fmt.Errorf("exchange rate for %s is stale: published %s, older than %s",
			currency, rate.AsOf.UTC().Format(time.RFC3339), e.calc.rateMaxAge)
	}
	return rate, nil
}

func scheduleNames(ids []ScheduleID) []string {
	seen := make(map[ScheduleID]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, sid := range ids {
		if seen[sid] {
			continue
		}
		seen[sid] = true
		out = append(out, string(sid))
	}
	return out
}
