package consistency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"efile/internal/document"
	"efile/internal/forms"
)

// Kind decides how a rule compares amounts.
type Kind string

const (
	// KindTransfer is a line copied from another form. It must match exactly.
	KindTransfer Kind = "transfer"
	// KindAggregation is a computed figure (sum, conversion, percentage). It
	// may differ by up to the configured tolerance.
	KindAggregation Kind = "aggregation"
	// KindLimit bounds one figure by another.
	KindLimit Kind = "limit"
)

// Rule is one independent cross-schedule check.
type Rule struct {
	Name string
	Kind Kind
	eval func(e *evaluation)
}

// ref addresses an amount on any instance of the listed form types. Segments
// of a repeated group match every entry, so the amounts are summed.
type ref struct {
	types []forms.FormType
	path  string
}

func on(path string, fts ...forms.FormType) ref {
	return ref{types: fts, path: path}
}

var primaryReturns = []forms.FormType{forms.Form1040, forms.Form1040SR}

func onReturn(path string) ref {
	return on(path, primaryReturns...)
}

func (r ref) label() string {
	names := make([]string, len(r.types))
	for i, ft := range r.types {
		names[i] = string(ft)
	}
	return strings.Join(names, "|") + " " + r.path
}

// sumAt totals every amount matching path below node.
func sumAt(node *document.Node, path string) decimal.Decimal {
	nodes := []*document.Node{node}
	for _, seg := range strings.Split(path, "/") {
		var next []*document.Node
		for _, n := range nodes {
			next = append(next, n.ChildrenNamed(seg)...)
		}
		nodes = next
	}
	total := decimal.Zero
	for _, n := range nodes {
		if v, err := document.ParseAmount(n.Value); err == nil {
			total = total.Add(v)
		}
	}
	return total
}

// link compares the sum of the from refs with the sum of the to refs. It
// applies only when at least one form on each side is attached.
func link(name string, kind Kind, from, to []ref) Rule {
	return Rule{Name: name, Kind: kind, eval: func(e *evaluation) {
		fromTotal, fromIDs := e.total(from)
		toTotal, toIDs := e.total(to)
		if len(fromIDs) == 0 || len(toIDs) == 0 {
			return
		}
		labels := make([]string, len(from))
		for i, r := range from {
			labels[i] = r.label()
		}
		e.compare(append(fromIDs, toIDs...), fromTotal, toTotal,
			fmt.Sprintf("%s must equal %s", to[0].label(), strings.Join(labels, " + ")))
	}}
}

func transfer(name string, from, to ref) Rule {
	return link(name, KindTransfer, []ref{from}, []ref{to})
}

// perSchedule runs check once for every instance of ft.
func perSchedule(name string, kind Kind, ft forms.FormType, check func(e *evaluation, sch Schedule)) Rule {
	return Rule{Name: name, Kind: kind, eval: func(e *evaluation) {
		for _, sch := range e.set.OfType(ft) {
			check(e, sch)
		}
	}}
}

// DefaultRules is the shipped rule set.
func DefaultRules() []Rule {
	rules := []Rule{
		perSchedule("schedule_c_total_expenses", KindAggregation, forms.ScheduleC, func(e *evaluation, sch Schedule) {
			var lines decimal.Decimal
			if exp := sch.Body.Child("Expenses"); exp != nil {
				for _, c := range exp.Children {
					switch c.Name {
					case "TotalExpensesAmt", "BusinessUseOfHomeAmt", "NetProfitOrLossAmt":
						continue
					}
					if v, err := document.ParseAmount(c.Value); err == nil {
						lines = lines.Add(v)
					}
				}
			}
			total, _ := sch.Body.AmountAt("Expenses/TotalExpensesAmt")
			e.compare([]ScheduleID{sch.ID}, lines, total, "TotalExpensesAmt must equal the sum of expense lines")
		}),
		perSchedule("schedule_c_net_profit", KindAggregation, forms.ScheduleC, func(e *evaluation, sch Schedule) {
			gross, _ := sch.Body.AmountAt("Income/GrossIncomeAmt")
			total, _ := sch.Body.AmountAt("Expenses/TotalExpensesAmt")
			home, _ := sch.Body.AmountAt("Expenses/BusinessUseOfHomeAmt")
			net, _ := sch.Body.AmountAt("Expenses/NetProfitOrLossAmt")
			e.compare([]ScheduleID{sch.ID}, gross.Sub(total).Sub(home), net,
				"NetProfitOrLossAmt must equal gross income less expenses")
		}),
		perSchedule("schedule_f_net_profit", KindAggregation, forms.ScheduleF, func(e *evaluation, sch Schedule) {
			gross, _ := sch.Body.AmountAt("Income/GrossIncomeAmt")
			total, _ := sch.Body.AmountAt("Expenses/TotalExpensesAmt")
			net, _ := sch.Body.AmountAt("Expenses/NetFarmProfitOrLossAmt")
			e.compare([]ScheduleID{sch.ID}, gross.Sub(total), net,
				"NetFarmProfitOrLossAmt must equal gross income less expenses")
		}),
		perSchedule("schedule_se_total", KindAggregation, forms.ScheduleSE, func(e *evaluation, sch Schedule) {
			farm, _ := sch.Body.AmountAt("Earnings/NetFarmProfitLossAmt")
			nonFarm, _ := sch.Body.AmountAt("Earnings/NetNonFarmProfitLossAmt")
			total, _ := sch.Body.AmountAt("Earnings/TotalSEIncomeAmt")
			e.compare([]ScheduleID{sch.ID}, farm.Add(nonFarm), total,
				"TotalSEIncomeAmt must equal farm plus nonfarm profit")
		}),
		perSchedule("schedule_se_net_earnings", KindAggregation, forms.ScheduleSE, func(e *evaluation, sch Schedule) {
			total, _ := sch.Body.AmountAt("Earnings/TotalSEIncomeAmt")
			net, _ := sch.Body.AmountAt("Earnings/NetEarningsFromSEAmt")
			expected := total.Mul(SelfEmploymentEarningsRate).Round(2)
			if expected.IsNegative() {
				expected = decimal.Zero
			}
			e.compare([]ScheduleID{sch.ID}, expected, net, "NetEarningsFromSEAmt must equal 92.35% of total SE income")
		}),
		perSchedule("schedule_se_deductible_half", KindAggregation, forms.ScheduleSE, func(e *evaluation, sch Schedule) {
			tax, _ := sch.Body.AmountAt("Tax/SelfEmploymentTaxAmt")
			half, _ := sch.Body.AmountAt("Tax/DeductibleSETaxAmt")
			e.compare([]ScheduleID{sch.ID}, tax.Div(decimal.NewFromInt(2)).Round(2), half,
				"DeductibleSETaxAmt must equal half the self-employment tax")
		}),
		perSchedule("form_8949_short_term_totals", KindAggregation, forms.Form8949, holdingTotals("SHORT", "ShortTermTotals")),
		perSchedule("form_8949_long_term_totals", KindAggregation, forms.Form8949, holdingTotals("LONG", "LongTermTotals")),
		perSchedule("form_2555_conversion", KindAggregation, forms.Form2555,
			conversion("Income/CurrencyCd", "Income/ForeignEarnedIncomeAmt", "Income/ForeignEarnedIncomeUSDAmt")),
		perSchedule("form_1116_conversion", KindAggregation, forms.Form1116,
			conversion("Taxes/CurrencyCd", "Taxes/ForeignTaxesPaidAmt", "Taxes/ForeignTaxesPaidUSDAmt")),
		{Name: "return_total_income", Kind: KindAggregation, eval: func(e *evaluation) {
			for _, sch := range e.set.OfType(primaryReturns...) {
				inc := sch.Body.Child("Income")
				if inc == nil {
					continue
				}
				sum := decimal.Zero
				for _, name := range []string{
					"WagesAmt", "TaxableInterestAmt", "OrdinaryDividendsAmt", "IRADistributionsTaxableAmt",
					"PensionsAnnuitiesTaxableAmt", "SocSecBnftTaxableAmt", "CapitalGainLossAmt", "AdditionalIncomeAmt",
				} {
					v, _ := inc.AmountAt(name)
					sum = sum.Add(v)
				}
				total, _ := inc.AmountAt("TotalIncomeAmt")
				e.compare([]ScheduleID{sch.ID}, sum, total, "TotalIncomeAmt must equal the sum of income lines")

				adj, _ := inc.AmountAt("AdjustmentsToIncomeAmt")
				agi, _ := inc.AmountAt("AdjustedGrossIncomeAmt")
				e.compare([]ScheduleID{sch.ID}, total.Sub(adj), agi,
					"AdjustedGrossIncomeAmt must equal total income less adjustments")
			}
		}},
		{Name: "nonemployee_compensation_reported", Kind: KindLimit, eval: func(e *evaluation) {
			nec, necIDs := e.total([]ref{on("Compensation/NonemployeeCompensationAmt", forms.Form1099NEC)})
			receipts, cIDs := e.total([]ref{on("Income/GrossReceiptsAmt", forms.ScheduleC)})
			if len(necIDs) == 0 || len(cIDs) == 0 {
				return
			}
			e.compare(append(necIDs, cIDs...), receipts, nec,
				"nonemployee compensation must not exceed Schedule C gross receipts")
		}},
		link("depreciation", KindAggregation,
			[]ref{on("Depreciation/TotalDepreciationAmt", forms.Form4562)},
			[]ref{
				on("Expenses/DepreciationAmt", forms.ScheduleC, forms.ScheduleF),
				on("Properties/Property/DepreciationAmt", forms.ScheduleE),
			}),
		link("withholding", KindTransfer,
			[]ref{
				on("Compensation/WithholdingAmt", forms.FormW2),
				on("Compensation/FederalIncomeTaxWithheldAmt", forms.Form1099NEC),
			},
			[]ref{onReturn("Payments/WithholdingTaxAmt")}),
	}

	transfers := []struct {
		name     string
		from, to ref
	}{
		{"se_nonfarm_profit", on("Expenses/NetProfitOrLossAmt", forms.ScheduleC), on("Earnings/NetNonFarmProfitLossAmt", forms.ScheduleSE)},
		{"se_farm_profit", on("Expenses/NetFarmProfitOrLossAmt", forms.ScheduleF), on("Earnings/NetFarmProfitLossAmt", forms.ScheduleSE)},
		{"schedule1_business_income", on("Expenses/NetProfitOrLossAmt", forms.ScheduleC), on("AdditionalIncome/BusinessIncomeLossAmt", forms.Schedule1)},
		{"schedule1_farm_income", on("Expenses/NetFarmProfitOrLossAmt", forms.ScheduleF), on("AdditionalIncome/FarmIncomeLossAmt", forms.Schedule1)},
		{"schedule1_rental_income", on("Summary/TotalSupplementalIncomeLossAmt", forms.ScheduleE), on("AdditionalIncome/RentalRealEstateIncomeLossAmt", forms.Schedule1)},
		{"schedule1_foreign_exclusion", on("Exclusion/ForeignEarnedIncomeExclusionAmt", forms.Form2555), on("AdditionalIncome/ForeignEarnedIncomeExclusionAmt", forms.Schedule1)},
		{"schedule1_se_deduction", on("Tax/DeductibleSETaxAmt", forms.ScheduleSE), on("Adjustments/DeductibleSelfEmploymentTaxAmt", forms.Schedule1)},
		{"schedule2_se_tax", on("Tax/SelfEmploymentTaxAmt", forms.ScheduleSE), on("Taxes/SelfEmploymentTaxAmt", forms.Schedule2)},
		{"schedule2_household_tax", on("Taxes/TotalHouseholdEmploymentTaxAmt", forms.ScheduleH), on("Taxes/HouseholdEmploymentTaxAmt", forms.Schedule2)},
		{"schedule2_excess_premium_credit", on("Reconciliation/ExcessAdvancePaymentAmt", forms.Form8962), on("Taxes/ExcessAdvncPremiumTaxCrRepayAmt", forms.Schedule2)},
		{"schedule3_foreign_tax_credit", on("Credit/ForeignTaxCreditAmt", forms.Form1116), on("NonrefundableCredits/ForeignTaxCreditAmt", forms.Schedule3)},
		{"schedule3_care_credit", on("Credit/CreditAmt", forms.Form2441), on("NonrefundableCredits/ChildAndDependentCareCrAmt", forms.Schedule3)},
		{"schedule3_education_credit", on("Credits/NonrefundableEducationCrAmt", forms.Form8863), on("NonrefundableCredits/EducationCreditAmt", forms.Schedule3)},
		{"schedule3_net_premium_credit", on("Reconciliation/NetPremiumTaxCreditAmt", forms.Form8962), on("OtherPayments/NetPremiumTaxCreditAmt", forms.Schedule3)},
		{"home_office_deduction", on("Expenses/AllowableDeductionAmt", forms.Form8829), on("Expenses/BusinessUseOfHomeAmt", forms.ScheduleC)},
		{"schedule_d_short_term_proceeds", on("ShortTermTotals/ProceedsAmt", forms.Form8949), on("ShortTerm/ProceedsAmt", forms.ScheduleD)},
		{"schedule_d_short_term_gain", on("ShortTermTotals/GainLossAmt", forms.Form8949), on("ShortTerm/GainLossAmt", forms.ScheduleD)},
		{"schedule_d_long_term_proceeds", on("LongTermTotals/ProceedsAmt", forms.Form8949), on("LongTerm/ProceedsAmt", forms.ScheduleD)},
		{"schedule_d_long_term_gain", on("LongTermTotals/GainLossAmt", forms.Form8949), on("LongTerm/GainLossAmt", forms.ScheduleD)},
		{"return_wages", on("Compensation/WagesAmt", forms.FormW2), onReturn("Income/WagesAmt")},
		{"return_interest", on("Interest/TotalInterestAmt", forms.ScheduleB), onReturn("Income/TaxableInterestAmt")},
		{"return_dividends", on("Dividends/TotalOrdinaryDividendsAmt", forms.ScheduleB), onReturn("Income/OrdinaryDividendsAmt")},
		{"return_capital_gain", on("Summary/CapitalGainLossToReportAmt", forms.ScheduleD), onReturn("Income/CapitalGainLossAmt")},
		{"return_additional_income", on("AdditionalIncome/TotalAdditionalIncomeAmt", forms.Schedule1), onReturn("Income/AdditionalIncomeAmt")},
		{"return_adjustments", on("Adjustments/TotalAdjustmentsAmt", forms.Schedule1), onReturn("Income/AdjustmentsToIncomeAmt")},
		{"return_itemized_deductions", on("Other/TotalItemizedDeductionsAmt", forms.ScheduleA), onReturn("Deductions/TotalDeductionAmt")},
		{"return_qbi_deduction", on("Deduction/QBIDeductionAmt", forms.Form8995), onReturn("Deductions/QBIDeductionAmt")},
		{"return_child_tax_credit", on("Credits/ChildTaxCreditAmt", forms.Schedule8812), onReturn("TaxAndCredits/ChildTaxCreditAmt")},
		{"return_additional_child_tax_credit", on("Credits/AdditionalChildTaxCreditAmt", forms.Schedule8812), onReturn("Payments/AdditionalChildTaxCreditAmt")},
		{"return_other_taxes", on("Taxes/TotalOtherTaxesAmt", forms.Schedule2), onReturn("TaxAndCredits/OtherTaxesAmt")},
		{"return_other_credits", on("NonrefundableCredits/TotalNonrefundableCreditsAmt", forms.Schedule3), onReturn("TaxAndCredits/OtherCreditsAmt")},
		{"return_other_payments", on("OtherPayments/TotalOtherPaymentsAmt", forms.Schedule3), onReturn("Payments/OtherPaymentsAmt")},
	}
	for _, t := range transfers {
		rules = append(rules, transfer(t.name, t.from, t.to))
	}
	return rules
}

func holdingTotals(period, section string) func(*evaluation, Schedule) {
	return func(e *evaluation, sch Schedule) {
		proceeds, gain := decimal.Zero, decimal.Zero
		if txs := sch.Body.Child("Transactions"); txs != nil {
			for _, tx := range txs.ChildrenNamed("Transaction") {
				if cd, _ := tx.Text("HoldingPeriodCd"); cd != period {
					continue
				}
				p, _ := tx.AmountAt("ProceedsAmt")
				g, _ := tx.AmountAt("GainLossAmt")
				proceeds, gain = proceeds.Add(p), gain.Add(g)
			}
		}
		totalProceeds, _ := sch.Body.AmountAt(section + "/ProceedsAmt")
		totalGain, _ := sch.Body.AmountAt(section + "/GainLossAmt")
		e.compare([]ScheduleID{sch.ID}, proceeds, totalProceeds, section+" ProceedsAmt must equal the sum of transactions")
		e.compare([]ScheduleID{sch.ID}, gain, totalGain, section+" GainLossAmt must equal the sum of transactions")
	}
}

// conversion checks a foreign amount against its reported dollar amount using
// the current exchange-rate record. A missing or stale record is an error.
func conversion(currencyPath, foreignPath, usdPath string) func(*evaluation, Schedule) {
	return func(e *evaluation, sch Schedule) {
		currency, _ := sch.Body.Text(currencyPath)
		foreign, _ := sch.Body.AmountAt(foreignPath)
		usd, _ := sch.Body.AmountAt(usdPath)
		if currency == "USD" {
			e.compare([]ScheduleID{sch.ID}, foreign, usd, usdPath+" must equal the USD amount")
			return
		}
		rate, err := e.rate(currency)
		if err != nil {
			e.fail([]ScheduleID{sch.ID}, err.Error())
			return
		}
		e.compare([]ScheduleID{sch.ID}, foreign.Mul(rate.Rate).Round(2), usd,
			fmt.Sprintf("%s must equal %s converted at %s", usdPath, foreignPath, rate.Rate.String()))
	}
}
