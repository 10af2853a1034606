package forms

import (
	"github.com/shopspring/decimal"
)

// Qualifying test codes on Form 2555.
const (
	TestBonaFideResidence = "BONA_FIDE"
	TestPhysicalPresence  = "PHYSICAL_PRESENCE"
)

// Form2555Input reports foreign earned income and its exclusion. Amounts in the
// foreign currency are converted with ExchangeRate, USD per unit.
type Form2555Input struct {
	ForeignCountry   string              `json:"foreign_country"`
	QualifyingTest   string              `json:"qualifying_test"`
	DaysPresent      int                 `json:"days_present,omitempty"`
	Currency         string              `json:"currency"`
	ForeignIncome    decimal.NullDecimal `json:"foreign_income"`
	ExchangeRate     decimal.Decimal     `json:"exchange_rate"`
	MaximumExclusion decimal.NullDecimal `json:"maximum_exclusion"`
	HousingExclusion decimal.Decimal     `json:"housing_exclusion"`
}

func (Form2555Input) FormType() FormType { return Form2555 }

func build2555(in Form2555Input, w *Writer) {
	r := w.Section("Residence")
	r.RequiredText("ForeignCountryCd", in.ForeignCountry)
	r.RequiredText("QualifyingTestCd", in.QualifyingTest)
	r.Count("DaysPresentCnt", in.DaysPresent)

	usd := val(in.ForeignIncome).Mul(in.ExchangeRate).Round(2)
	inc := w.Section("Income")
	inc.RequiredText("CurrencyCd", in.Currency)
	inc.RequiredAmount("ForeignEarnedIncomeAmt", in.ForeignIncome)
	inc.RequiredRate("ExchangeRt", in.ExchangeRate)
	inc.Total("ForeignEarnedIncomeUSDAmt", usd)

	ex := w.Section("Exclusion")
	ex.RequiredAmount("MaximumExclusionAmt", in.MaximumExclusion)
	ex.Total("ForeignEarnedIncomeExclusionAmt", nonNegative(decimal.Min(usd, val(in.MaximumExclusion))))
	ex.Amount("HousingExclusionAmt", in.HousingExclusion)
}

// Form1116Input computes the foreign tax credit for one income category.
type Form1116Input struct {
	Category            string              `json:"category"`
	ForeignCountry      string              `json:"foreign_country"`
	Currency            string              `json:"currency"`
	ForeignTaxesPaid    decimal.NullDecimal `json:"foreign_taxes_paid"`
	ExchangeRate        decimal.Decimal     `json:"exchange_rate"`
	ForeignSourceIncome decimal.NullDecimal `json:"foreign_source_income"`
	TotalIncome         decimal.NullDecimal `json:"total_income"`
	USTaxLiability      decimal.NullDecimal `json:"us_tax_liability"`
}

func (Form1116Input) FormType() FormType { return Form1116 }

func build1116(in Form1116Input, w *Writer) {
	c := w.Section("Category")
	c.RequiredText("CategoryOfIncomeCd", in.Category)
	c.RequiredText("ForeignCountryCd", in.ForeignCountry)

	paid := val(in.ForeignTaxesPaid).Mul(in.ExchangeRate).Round(2)
	t := w.Section("Taxes")
	t.RequiredText("CurrencyCd", in.Currency)
	t.RequiredAmount("ForeignTaxesPaidAmt", in.ForeignTaxesPaid)
	t.RequiredRate("ExchangeRt", in.ExchangeRate)
	t.Total("ForeignTaxesPaidUSDAmt", paid)

	limitation := decimal.Zero
	if total := val(in.TotalIncome); total.IsPositive() {
		limitation = nonNegative(val(in.ForeignSourceIncome).Div(total).Mul(val(in.USTaxLiability)).Round(2))
	}
	cr := w.Section("Credit")
	cr.RequiredAmount("ForeignSourceIncomeAmt", in.ForeignSourceIncome)
	cr.RequiredAmount("TotalIncomeAmt", in.TotalIncome)
	cr.RequiredAmount("USTaxLiabilityAmt", in.USTaxLiability)
	cr.Total("CreditLimitationAmt", limitation)
	cr.Total("ForeignTaxCreditAmt", decimal.Min(paid, limitation))
}

var (
	careExpenseLimitOne  = Dec("3000")
	careExpenseLimitMany = Dec("6000")
)

// CareProvider is one person or organization that provided care.
type CareProvider struct {
	Name string              `json:"name"`
	TIN  string              `json:"tin"`
	Paid decimal.NullDecimal `json:"paid"`
}

// Form2441Input computes the child and dependent care credit.
type Form2441Input struct {
	Providers         []CareProvider  `json:"providers"`
	QualifyingPersons int             `json:"qualifying_persons"`
	ApplicableRate    decimal.Decimal `json:"applicable_rate"`
}

func (Form2441Input) FormType() FormType { return Form2441 }

func build2441(in Form2441Input, w *Writer) {
	ps := w.Section("Providers")
	ps.RequireEntries("CareProvider", len(in.Providers))
	paid := decimal.Zero
	for i, p := range in.Providers {
		e := ps.Entry("CareProvider", i+1)
		e.RequiredText("ProviderNm", p.Name)
		e.RequiredText("ProviderIdNum", p.TIN)
		e.RequiredAmount("PaidAmt", p.Paid)
		paid = paid.Add(val(p.Paid))
	}

	limit := careExpenseLimitOne
	if in.QualifyingPersons > 1 {
		limit = careExpenseLimitMany
	}
	qualified := decimal.Min(paid, limit)
	c := w.Section("Credit")
	c.RequiredCount("QualifyingPersonCnt", in.QualifyingPersons)
	c.Total("QualifiedExpensesAmt", qualified)
	c.RequiredRate("ApplicableRt", in.ApplicableRate)
	c.Total("CreditAmt", qualified.Mul(in.ApplicableRate).Round(2))
}

var (
	aocMaximum        = Dec("2500")
	aocFullTier       = Dec("2000")
	aocRefundableRate = Dec("0.40")
	llcRate           = Dec("0.20")
	llcMaximum        = Dec("2000")
	llcExpenseCap     = Dec("10000")
	quarter           = Dec("0.25")
)

// Student is one eligible student on Form 8863.
type Student struct {
	Name                string              `json:"name"`
	SSN                 string              `json:"ssn"`
	Institution         string              `json:"institution"`
	QualifiedExpenses   decimal.NullDecimal `json:"qualified_expenses"`
	AmericanOpportunity bool                `json:"american_opportunity"`
}

// aoc is the American opportunity credit for one student's expenses.
func aoc(expenses decimal.Decimal) decimal.Decimal {
	if expenses.LessThanOrEqual(aocFullTier) {
		return expenses
	}
	return decimal.Min(aocMaximum, aocFullTier.Add(expenses.Sub(aocFullTier).Mul(quarter)))
}

// Form8863Input computes education credits.
type Form8863Input struct {
	Students []Student `json:"students"`
}

func (Form8863Input) FormType() FormType { return Form8863 }

func build8863(in Form8863Input, w *Writer) {
	ss := w.Section("Students")
	ss.RequireEntries("Student", len(in.Students))
	american, lifetime := decimal.Zero, decimal.Zero
	for i, s := range in.Students {
		e := ss.Entry("Student", i+1)
		e.RequiredText("StudentNm", s.Name)
		e.RequiredText("StudentSSN", s.SSN)
		e.RequiredText("InstitutionNm", s.Institution)
		e.RequiredAmount("QualifiedExpensesAmt", s.QualifiedExpenses)
		e.Flag("AmericanOpportunityInd", s.AmericanOpportunity)
		if s.AmericanOpportunity {
			american = american.Add(aoc(nonNegative(val(s.QualifiedExpenses))))
		} else {
			lifetime = lifetime.Add(nonNegative(val(s.QualifiedExpenses)))
		}
	}

	refundable := american.Mul(aocRefundableRate).Round(2)
	llc := decimal.Min(decimal.Min(lifetime, llcExpenseCap).Mul(llcRate).Round(2), llcMaximum)
	c := w.Section("Credits")
	c.Total("RefundableAOCAmt", refundable)
	c.Total("NonrefundableEducationCrAmt", american.Sub(refundable).Add(llc))
}

// Form8962Input reconciles advance payments of the premium tax credit.
type Form8962Input struct {
	FamilySize      int                 `json:"family_size"`
	HouseholdIncome decimal.NullDecimal `json:"household_income"`
	AnnualPremium   decimal.NullDecimal `json:"annual_premium"`
	AnnualSLCSP     decimal.NullDecimal `json:"annual_slcsp"`
	Contribution    decimal.NullDecimal `json:"contribution"`
	AdvancePayments decimal.Decimal     `json:"advance_payments"`
}

func (Form8962Input) FormType() FormType { return Form8962 }

func build8962(in Form8962Input, w *Writer) {
	h := w.Section("Household")
	h.RequiredCount("FamilySizeCnt", in.FamilySize)
	h.RequiredAmount("HouseholdIncomeAmt", in.HouseholdIncome)

	c := w.Section("Coverage")
	c.RequiredAmount("AnnualPremiumAmt", in.AnnualPremium)
	c.RequiredAmount("AnnualSLCSPAmt", in.AnnualSLCSP)
	c.RequiredAmount("AnnualContributionAmt", in.Contribution)
	c.Amount("AdvancePaymentAmt", in.AdvancePayments)

	ptc := nonNegative(decimal.Min(val(in.AnnualPremium), val(in.AnnualSLCSP).Sub(val(in.Contribution))))
	r := w.Section("Reconciliation")
	r.Total("PremiumTaxCreditAmt", ptc)
	r.Total("NetPremiumTaxCreditAmt", nonNegative(ptc.Sub(in.AdvancePayments)))
	r.Total("ExcessAdvancePaymentAmt", nonNegative(in.AdvancePayments.Sub(ptc)))
}
