package schedules_test

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"efile/internal/forms"
	"efile/internal/schedules"
	dErrors "efile/pkg/domain-errors"
)

type ResolverSuite struct {
	suite.Suite
	resolver *schedules.Resolver
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	var err error
	s.resolver, err = schedules.NewResolver()
	s.Require().NoError(err)
}

func selfEmployed() schedules.TaxpayerFacts {
	return schedules.TaxpayerFacts{
		FilingStatus:              forms.FilingSingle,
		W2Count:                   1,
		NECCount:                  1,
		Businesses:                1,
		HasDepreciableAssets:      true,
		SelfEmploymentNetEarnings: decimal.NewFromInt(6000),
		StandardDeduction:         decimal.NewFromInt(14600),
	}
}

func (s *ResolverSuite) TestRequiredSchedules() {
	s.Run("self-employed taxpayer", func() {
		set := s.resolver.RequiredSchedules(selfEmployed())
		for _, ft := range []forms.FormType{
			forms.FormW2, forms.Form1099NEC, forms.Form4562, forms.ScheduleC,
			forms.ScheduleSE, forms.Schedule1, forms.Schedule2,
		} {
			s.Contains(set, ft)
		}
		s.NotContains(set, forms.ScheduleA)
		s.NotContains(set, forms.ScheduleB)
		s.Equal([]forms.FormType{forms.Form1040, forms.ScheduleSE, forms.Schedule1}, set[forms.ScheduleC].Parents)
	})

	s.Run("self-employment earnings at the threshold do not require SE", func() {
		f := selfEmployed()
		f.SelfEmploymentNetEarnings = decimal.NewFromInt(400)
		set := s.resolver.RequiredSchedules(f)
		s.NotContains(set, forms.ScheduleSE)
		s.NotContains(set, forms.Schedule2)
	})

	s.Run("interest above 1500 requires Schedule B", func() {
		set := s.resolver.RequiredSchedules(schedules.TaxpayerFacts{TaxableInterest: decimal.NewFromFloat(1500.01)})
		s.Contains(set, forms.ScheduleB)

		set = s.resolver.RequiredSchedules(schedules.TaxpayerFacts{TaxableInterest: decimal.NewFromInt(1500)})
		s.NotContains(set, forms.ScheduleB)
	})

	s.Run("foreign accounts require Schedule B regardless of amounts", func() {
		set := s.resolver.RequiredSchedules(schedules.TaxpayerFacts{ForeignAccounts: true})
		s.Contains(set, forms.ScheduleB)
	})

	s.Run("household wages at 2700 require Schedule H", func() {
		set := s.resolver.RequiredSchedules(schedules.TaxpayerFacts{HouseholdWages: decimal.NewFromInt(2700)})
		s.Contains(set, forms.ScheduleH)
		s.Contains(set, forms.Schedule2)
	})

	s.Run("itemizing only when it beats the standard deduction", func() {
		f := schedules.TaxpayerFacts{
			ItemizedDeductions: decimal.NewFromInt(14600),
			StandardDeduction:  decimal.NewFromInt(14600),
		}
		s.NotContains(s.resolver.RequiredSchedules(f), forms.ScheduleA)
		f.ItemizedDeductions = decimal.NewFromInt(20000)
		s.Contains(s.resolver.RequiredSchedules(f), forms.ScheduleA)
	})

	s.Run("one copy per wage statement", func() {
		f := selfEmployed()
		f.W2Count = 3
		s.Equal(3, s.resolver.RequiredSchedules(f)[forms.FormW2].Count)
	})

	s.Run("no facts require nothing", func() {
		s.Empty(s.resolver.RequiredSchedules(schedules.TaxpayerFacts{}))
	})
}

func (s *ResolverSuite) TestPrimary() {
	s.Equal(forms.Form1040, schedules.Primary(schedules.TaxpayerFacts{}))
	s.Equal(forms.Form1040SR, schedules.Primary(schedules.TaxpayerFacts{Age65OrOlder: true}))
	s.Equal(forms.Form1040NR, schedules.Primary(schedules.TaxpayerFacts{NonresidentAlien: true, Age65OrOlder: true}))
}

func (s *ResolverSuite) TestResolveOrder() {
	s.Run("every schedule follows its dependencies", func() {
		set := s.resolver.RequiredSchedules(selfEmployed())
		order, err := s.resolver.ResolveOrder(set)
		s.Require().NoError(err)
		s.Len(order, len(set))

		pos := make(map[forms.FormType]int, len(order))
		for i, ft := range order {
			pos[ft] = i
		}
		for _, n := range schedules.DefaultGraph() {
			if _, ok := pos[n.ID]; !ok {
				continue
			}
			for _, dep := range n.DependsOn {
				if p, ok := pos[dep]; ok {
					s.Less(p, pos[n.ID], "%s must precede %s", dep, n.ID)
				}
			}
		}
	})

	s.Run("ties follow declaration order", func() {
		order, err := s.resolver.Order(forms.ScheduleSE, forms.Form4562, forms.ScheduleC, forms.FormW2, forms.Form1099NEC)
		s.Require().NoError(err)
		s.Equal([]forms.FormType{
			forms.FormW2, forms.Form1099NEC, forms.Form4562, forms.ScheduleC, forms.ScheduleSE,
		}, order)
	})

	s.Run("output does not depend on input order", func() {
		ids := schedules.DefaultGraph()
		all := make([]forms.FormType, len(ids))
		for i, n := range ids {
			all[i] = n.ID
		}
		want, err := s.resolver.Order(all...)
		s.Require().NoError(err)

		rng := rand.New(rand.NewPCG(7, 11))
		for range 20 {
			shuffled := slices.Clone(all)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			got, err := s.resolver.Order(shuffled...)
			s.Require().NoError(err)
			s.Equal(want, got)
		}
	})

	s.Run("a dependency outside the set is not pulled in", func() {
		order, err := s.resolver.Order(forms.Schedule1, forms.ScheduleC)
		s.Require().NoError(err)
		s.Equal([]forms.FormType{forms.ScheduleC, forms.Schedule1}, order)
	})

	s.Run("unknown id", func() {
		_, err := s.resolver.Order(forms.Form1040)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("empty set", func() {
		order, err := s.resolver.ResolveOrder(schedules.Set{})
		s.Require().NoError(err)
		s.Empty(order)
	})
}

func (s *ResolverSuite) TestCircularDependency() {
	s.Run("two-node cycle", func() {
		graph := schedules.Graph{
			{ID: forms.ScheduleC, DependsOn: []forms.FormType{forms.ScheduleSE}},
			{ID: forms.ScheduleSE, DependsOn: []forms.FormType{forms.ScheduleC}},
		}
		_, err := schedules.NewResolver(schedules.WithGraph(graph), schedules.WithTriggers(nil))
		s.Require().Error(err)

		var cycle *schedules.CircularDependencyError
		s.Require().True(errors.As(err, &cycle))
		s.Equal([]forms.FormType{forms.ScheduleC, forms.ScheduleSE, forms.ScheduleC}, cycle.Cycle)
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
		s.Equal("circular schedule dependency: IRS1040ScheduleC -> IRS1040ScheduleSE -> IRS1040ScheduleC", err.Error())
	})

	s.Run("three-node cycle behind an acyclic prefix", func() {
		graph := schedules.Graph{
			{ID: forms.FormW2},
			{ID: forms.ScheduleA, DependsOn: []forms.FormType{forms.ScheduleC}},
			{ID: forms.ScheduleB, DependsOn: []forms.FormType{forms.ScheduleA}},
			{ID: forms.ScheduleC, DependsOn: []forms.FormType{forms.ScheduleB, forms.FormW2}},
		}
		_, err := schedules.NewResolver(schedules.WithGraph(graph), schedules.WithTriggers(nil))
		var cycle *schedules.CircularDependencyError
		s.Require().True(errors.As(err, &cycle))
		s.Equal([]forms.FormType{forms.ScheduleC, forms.ScheduleA, forms.ScheduleB, forms.ScheduleC}, cycle.Cycle)
	})

	s.Run("self dependency", func() {
		graph := schedules.Graph{{ID: forms.ScheduleD, DependsOn: []forms.FormType{forms.ScheduleD}}}
		_, err := schedules.NewResolver(schedules.WithGraph(graph), schedules.WithTriggers(nil))
		var cycle *schedules.CircularDependencyError
		s.Require().True(errors.As(err, &cycle))
		s.Equal([]forms.FormType{forms.ScheduleD, forms.ScheduleD}, cycle.Cycle)
	})
}

func (s *ResolverSuite) TestGraphConfiguration() {
	s.Run("undeclared dependency", func() {
		graph := schedules.Graph{{ID: forms.ScheduleC, DependsOn: []forms.FormType{forms.Form4562}}}
		_, err := schedules.NewResolver(schedules.WithGraph(graph), schedules.WithTriggers(nil))
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	s.Run("duplicate declaration", func() {
		graph := schedules.Graph{{ID: forms.ScheduleC}, {ID: forms.ScheduleC}}
		_, err := schedules.NewResolver(schedules.WithGraph(graph), schedules.WithTriggers(nil))
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	s.Run("trigger for an undeclared schedule", func() {
		graph := schedules.Graph{{ID: forms.ScheduleC}}
		_, err := schedules.NewResolver(schedules.WithGraph(graph))
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})
}
