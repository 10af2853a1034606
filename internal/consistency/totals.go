package consistency

import (
	"github.com/shopspring/decimal"

	"efile/internal/forms"
)

// Class groups amount fields for totals.
type Class string

const (
	ClassIncome    Class = "income"
	ClassExpense   Class = "expense"
	ClassDeduction Class = "deduction"
)

type classified struct {
	Path  string
	Class Class
}

// fieldClasses lists the amounts that originate on each form. Lines carried
// onto another form are counted only where they originate, so information
// returns and the primary return's transfer lines are absent.
var fieldClasses = map[forms.FormType][]classified{
	forms.FormW2: {
		{"Compensation/WagesAmt", ClassIncome},
	},
	forms.ScheduleB: {
		{"Interest/TotalInterestAmt", ClassIncome},
		{"Dividends/TotalOrdinaryDividendsAmt", ClassIncome},
	},
	forms.ScheduleC: {
		{"Income/GrossIncomeAmt", ClassIncome},
		{"Expenses/TotalExpensesAmt", ClassExpense},
		{"Expenses/BusinessUseOfHomeAmt", ClassExpense},
	},
	forms.ScheduleF: {
		{"Income/GrossIncomeAmt", ClassIncome},
		{"Expenses/TotalExpensesAmt", ClassExpense},
	},
	forms.ScheduleE: {
		{"Summary/TotalSupplementalIncomeLossAmt", ClassIncome},
	},
	forms.ScheduleD: {
		{"Summary/CapitalGainLossToReportAmt", ClassIncome},
	},
	forms.Form2555: {
		{"Income/ForeignEarnedIncomeUSDAmt", ClassIncome},
		{"Exclusion/ForeignEarnedIncomeExclusionAmt", ClassDeduction},
	},
	forms.Schedule1: {
		{"Adjustments/TotalAdjustmentsAmt", ClassDeduction},
	},
	forms.ScheduleA: {
		{"Other/TotalItemizedDeductionsAmt", ClassDeduction},
	},
	forms.Form8995: {
		{"Deduction/QBIDeductionAmt", ClassDeduction},
	},
}

// ScheduleTotals are the classified sums of one schedule.
type ScheduleTotals struct {
	Income     decimal.Decimal `json:"income"`
	Expenses   decimal.Decimal `json:"expenses"`
	Deductions decimal.Decimal `json:"deductions"`
}

func (t *ScheduleTotals) add(c Class, v decimal.Decimal) {
	switch c {
	case ClassIncome:
		t.Income = t.Income.Add(v)
	case ClassExpense:
		t.Expenses = t.Expenses.Add(v)
	case ClassDeduction:
		t.Deductions = t.Deductions.Add(v)
	}
}

// TotalsSummary aggregates every attached schedule.
type TotalsSummary struct {
	Income     decimal.Decimal               `json:"income"`
	Expenses   decimal.Decimal               `json:"expenses"`
	Deductions decimal.Decimal               `json:"deductions"`
	Net        decimal.Decimal               `json:"net"`
	BySchedule map[ScheduleID]ScheduleTotals `json:"by_schedule"`
}

// Totals sums the income, expense and deduction fields of every schedule.
func Totals(set ScheduleSet) TotalsSummary {
	out := TotalsSummary{BySchedule: make(map[ScheduleID]ScheduleTotals)}
	for _, sch := range set.OfType(forms.Types()...) {
		fields, ok := fieldClasses[sch.FormType]
		if !ok {
			continue
		}
		var st ScheduleTotals
		for _, f := range fields {
			v, _ := sch.Body.AmountAt(f.Path)
			st.add(f.Class, v)
		}
		out.BySchedule[sch.ID] = st
		out.Income = out.Income.Add(st.Income)
		out.Expenses = out.Expenses.Add(st.Expenses)
		out.Deductions = out.Deductions.Add(st.Deductions)
	}
	out.Net = out.Income.Sub(out.Expenses).Sub(out.Deductions)
	return out
}
