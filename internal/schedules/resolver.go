package schedules

import (
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"efile/internal/forms"
	dErrors "efile/pkg/domain-errors"
)

// Thresholds used by the shipped triggers.
var (
	SelfEmploymentThreshold   = decimal.NewFromInt(400)
	InterestDividendThreshold = decimal.NewFromInt(1500)
	HouseholdWageThreshold    = decimal.NewFromInt(2700)
)

// TaxpayerFacts are the already-computed figures that decide which schedules
// a return needs.
type TaxpayerFacts struct {
	FilingStatus     forms.FilingStatus
	Age65OrOlder     bool
	NonresidentAlien bool

	W2Count                   int
	NECCount                  int
	Businesses                int
	Farms                     int
	RentalProperties          int
	PassThroughIncome         decimal.Decimal
	HasDepreciableAssets      bool
	HomeOfficeUse             bool
	SelfEmploymentNetEarnings decimal.Decimal
	QualifiedBusinessIncome   decimal.Decimal

	TaxableInterest          decimal.Decimal
	OrdinaryDividends        decimal.Decimal
	ForeignAccounts          bool
	CapitalTransactions      int
	CapitalGainDistributions decimal.Decimal

	HouseholdWages decimal.Decimal

	ItemizedDeductions decimal.Decimal
	StandardDeduction  decimal.Decimal

	QualifyingChildren int
	OtherDependents    int

	ForeignEarnedIncome   decimal.Decimal
	ForeignTaxPaid        decimal.Decimal
	DependentCareExpenses decimal.Decimal
	EducationExpenses     decimal.Decimal
	MarketplaceCoverage   bool

	AdditionalIncome      decimal.Decimal
	AdjustmentsToIncome   decimal.Decimal
	AlternativeMinimumTax decimal.Decimal
	OtherCredits          decimal.Decimal
}

// Trigger decides whether a schedule is required and how many copies.
type Trigger struct {
	Reason string
	When   func(TaxpayerFacts) bool
	// Count defaults to one copy when nil.
	Count func(TaxpayerFacts) int
}

// DefaultTriggers are the shipped trigger predicates keyed by schedule.
func DefaultTriggers() map[forms.FormType]Trigger {
	positive := func(d decimal.Decimal) bool { return d.IsPositive() }
	return map[forms.FormType]Trigger{
		forms.FormW2: {
			Reason: "wage statements received",
			When:   func(f TaxpayerFacts) bool { return f.W2Count > 0 },
			Count:  func(f TaxpayerFacts) int { return f.W2Count },
		},
		forms.Form1099NEC: {
			Reason: "nonemployee compensation received",
			When:   func(f TaxpayerFacts) bool { return f.NECCount > 0 },
			Count:  func(f TaxpayerFacts) int { return f.NECCount },
		},
		forms.Form4562: {
			Reason: "depreciable business assets",
			When:   func(f TaxpayerFacts) bool { return f.HasDepreciableAssets },
		},
		forms.Form8829: {
			Reason: "business use of home",
			When:   func(f TaxpayerFacts) bool { return f.HomeOfficeUse && f.Businesses > 0 },
		},
		forms.ScheduleC: {
			Reason: "sole proprietorship income",
			When:   func(f TaxpayerFacts) bool { return f.Businesses > 0 || f.NECCount > 0 },
			Count:  func(f TaxpayerFacts) int { return max(f.Businesses, 1) },
		},
		forms.ScheduleF: {
			Reason: "farm income",
			When:   func(f TaxpayerFacts) bool { return f.Farms > 0 },
			Count:  func(f TaxpayerFacts) int { return f.Farms },
		},
		forms.ScheduleE: {
			Reason: "rental, royalty or pass-through income",
			When: func(f TaxpayerFacts) bool {
				return f.RentalProperties > 0 || !f.PassThroughIncome.IsZero()
			},
		},
		forms.Form8949: {
			Reason: "capital asset sales",
			When:   func(f TaxpayerFacts) bool { return f.CapitalTransactions > 0 },
		},
		forms.ScheduleD: {
			Reason: "capital gains or distributions",
			When: func(f TaxpayerFacts) bool {
				return f.CapitalTransactions > 0 || positive(f.CapitalGainDistributions)
			},
		},
		forms.ScheduleB: {
			Reason: "interest or dividends over $1,500, or foreign accounts",
			When: func(f TaxpayerFacts) bool {
				return f.TaxableInterest.GreaterThan(InterestDividendThreshold) ||
					f.OrdinaryDividends.GreaterThan(InterestDividendThreshold) ||
					f.ForeignAccounts
			},
		},
		forms.ScheduleSE: {
			Reason: "self-employment net earnings over $400",
			When: func(f TaxpayerFacts) bool {
				return f.SelfEmploymentNetEarnings.GreaterThan(SelfEmploymentThreshold)
			},
		},
		forms.ScheduleH: {
			Reason: "household employee wages of $2,700 or more",
			When: func(f TaxpayerFacts) bool {
				return f.HouseholdWages.GreaterThanOrEqual(HouseholdWageThreshold)
			},
		},
		forms.Form2555: {
			Reason: "foreign earned income",
			When:   func(f TaxpayerFacts) bool { return positive(f.ForeignEarnedIncome) },
		},
		forms.Form1116: {
			Reason: "foreign taxes paid",
			When:   func(f TaxpayerFacts) bool { return positive(f.ForeignTaxPaid) },
		},
		forms.Form2441: {
			Reason: "dependent care expenses",
			When: func(f TaxpayerFacts) bool {
				return positive(f.DependentCareExpenses) && (f.QualifyingChildren > 0 || f.OtherDependents > 0)
			},
		},
		forms.Form8863: {
			Reason: "qualified education expenses",
			When:   func(f TaxpayerFacts) bool { return positive(f.EducationExpenses) },
		},
		forms.Form8962: {
			Reason: "marketplace health coverage",
			When:   func(f TaxpayerFacts) bool { return f.MarketplaceCoverage },
		},
		forms.Form8995: {
			Reason: "qualified business income",
			When:   func(f TaxpayerFacts) bool { return positive(f.QualifiedBusinessIncome) },
		},
		forms.ScheduleA: {
			Reason: "itemized deductions exceed the standard deduction",
			When: func(f TaxpayerFacts) bool {
				return f.ItemizedDeductions.GreaterThan(f.StandardDeduction)
			},
		},
		forms.Schedule8812: {
			Reason: "qualifying children or other dependents",
			When:   func(f TaxpayerFacts) bool { return f.QualifyingChildren > 0 || f.OtherDependents > 0 },
		},
		forms.Schedule1: {
			Reason: "additional income or adjustments",
			When: func(f TaxpayerFacts) bool {
				return f.Businesses > 0 || f.NECCount > 0 || f.Farms > 0 || f.RentalProperties > 0 ||
					!f.PassThroughIncome.IsZero() || positive(f.ForeignEarnedIncome) ||
					!f.AdditionalIncome.IsZero() || positive(f.AdjustmentsToIncome)
			},
		},
		forms.Schedule2: {
			Reason: "additional taxes",
			When: func(f TaxpayerFacts) bool {
				return f.SelfEmploymentNetEarnings.GreaterThan(SelfEmploymentThreshold) ||
					f.HouseholdWages.GreaterThanOrEqual(HouseholdWageThreshold) ||
					f.MarketplaceCoverage || positive(f.AlternativeMinimumTax)
			},
		},
		forms.Schedule3: {
			Reason: "additional credits or payments",
			When: func(f TaxpayerFacts) bool {
				return positive(f.ForeignTaxPaid) || positive(f.EducationExpenses) ||
					positive(f.OtherCredits) || f.MarketplaceCoverage ||
					(positive(f.DependentCareExpenses) && (f.QualifyingChildren > 0 || f.OtherDependents > 0))
			},
		},
	}
}

// Requirement records why a schedule is attached and which forms consume it.
type Requirement struct {
	Count   int
	Reason  string
	Parents []forms.FormType
}

// Set maps each required schedule to its requirement.
type Set map[forms.FormType]Requirement

// IDs returns the schedule ids in the set in no particular order.
func (s Set) IDs() []forms.FormType {
	ids := make([]forms.FormType, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Resolver evaluates triggers and orders schedules over a validated graph.
type Resolver struct {
	graph    Graph
	triggers map[forms.FormType]Trigger
	logger   *slog.Logger
}

type Option func(*Resolver)

func WithGraph(g Graph) Option {
	return func(r *Resolver) { r.graph = g }
}

func WithTriggers(t map[forms.FormType]Trigger) Option {
	return func(r *Resolver) { r.triggers = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver validates the whole graph up front: unknown ids, duplicate
// declarations and cycles are configuration errors.
func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		graph:    DefaultGraph(),
		triggers: DefaultTriggers(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	declared := make(map[forms.FormType]bool, len(r.graph))
	for _, n := range r.graph {
		declared[n.ID] = true
	}
	for _, n := range r.graph {
		for _, dep := range n.DependsOn {
			if !declared[dep] {
				return nil, dErrors.Newf(dErrors.CodeConfiguration, "schedule %s depends on undeclared %s", n.ID, dep)
			}
		}
	}
	for id := range r.triggers {
		if !declared[id] {
			return nil, dErrors.Newf(dErrors.CodeConfiguration, "trigger for undeclared schedule %s", id)
		}
	}
	c, err := compile(r.graph, func(forms.FormType) bool { return true })
	if err != nil {
		return nil, err
	}
	if _, err := c.order(); err != nil {
		return nil, err
	}
	return r, nil
}

// Primary selects the return the schedules attach to.
func Primary(f TaxpayerFacts) forms.FormType {
	switch {
	case f.NonresidentAlien:
		return forms.Form1040NR
	case f.Age65OrOlder:
		return forms.Form1040SR
	default:
		return forms.Form1040
	}
}

// RequiredSchedules evaluates every trigger against the facts.
func (r *Resolver) RequiredSchedules(f TaxpayerFacts) Set {
	set := make(Set)
	for _, n := range r.graph {
		t, ok := r.triggers[n.ID]
		if !ok || !t.When(f) {
			continue
		}
		count := 1
		if t.Count != nil {
			count = max(t.Count(f), 1)
		}
		set[n.ID] = Requirement{Count: count, Reason: t.Reason}
	}

	primary := Primary(f)
	for _, n := range r.graph {
		if _, ok := set[n.ID]; !ok {
			continue
		}
		for _, dep := range n.DependsOn {
			if req, ok := set[dep]; ok {
				req.Parents = append(req.Parents, n.ID)
				set[dep] = req
			}
		}
	}
	for id, req := range set {
		req.Parents = append([]forms.FormType{primary}, req.Parents...)
		set[id] = req
	}
	r.logger.Debug("schedules required",
		"primary", string(primary),
		"count", len(set),
	)
	return set
}

// ResolveOrder orders the set so every schedule follows its dependencies. Ties
// are broken by graph declaration order, never by the caller's ordering.
func (r *Resolver) ResolveOrder(set Set) ([]forms.FormType, error) {
	return r.Order(set.IDs()...)
}

// Order is ResolveOrder over a plain list of ids.
func (r *Resolver) Order(ids ...forms.FormType) ([]forms.FormType, error) {
	declared := make(map[forms.FormType]bool, len(r.graph))
	for _, n := range r.graph {
		declared[n.ID] = true
	}
	for _, id := range ids {
		if !declared[id] {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a schedule", id)
		}
	}
	c, err := compile(r.graph, func(id forms.FormType) bool { return slices.Contains(ids, id) })
	if err != nil {
		return nil, err
	}
	return c.order()
}
