package forms

import (
	"time"

	"github.com/shopspring/decimal"
)

// FilingStatus codes as printed on Form 1040.
type FilingStatus string

const (
	FilingSingle                    FilingStatus = "1"
	FilingMarriedJointly            FilingStatus = "2"
	FilingMarriedSeparately         FilingStatus = "3"
	FilingHeadOfHousehold           FilingStatus = "4"
	FilingQualifyingSurvivingSpouse FilingStatus = "5"
)

// Address is a domestic mailing address.
type Address struct {
	Line1 string `json:"line1"`
	City  string `json:"city"`
	State string `json:"state"`
	ZIP   string `json:"zip"`
}

// Filer identifies the taxpayer and, for joint returns, the spouse.
type Filer struct {
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	SSN             string  `json:"ssn"`
	SpouseFirstName string  `json:"spouse_first_name,omitempty"`
	SpouseLastName  string  `json:"spouse_last_name,omitempty"`
	SpouseSSN       string  `json:"spouse_ssn,omitempty"`
	Address         Address `json:"address"`
}

// Form1040Input carries the already-computed line values of Form 1040.
type Form1040Input struct {
	FilingStatus   FilingStatus `json:"filing_status"`
	Filer          Filer        `json:"filer"`
	DependentCount int          `json:"dependent_count,omitempty"`

	Wages                  decimal.NullDecimal `json:"wages"`
	TaxExemptInterest      decimal.Decimal     `json:"tax_exempt_interest"`
	TaxableInterest        decimal.Decimal     `json:"taxable_interest"`
	QualifiedDividends     decimal.Decimal     `json:"qualified_dividends"`
	OrdinaryDividends      decimal.Decimal     `json:"ordinary_dividends"`
	IRADistributions       decimal.Decimal     `json:"ira_distributions"`
	PensionsAnnuities      decimal.Decimal     `json:"pensions_annuities"`
	SocialSecurityBenefits decimal.Decimal     `json:"social_security_benefits"`
	CapitalGainLoss        decimal.Decimal     `json:"capital_gain_loss"`
	AdditionalIncome       decimal.Decimal     `json:"additional_income"`
	Adjustments            decimal.Decimal     `json:"adjustments"`

	Deduction    decimal.NullDecimal `json:"deduction"`
	QBIDeduction decimal.Decimal     `json:"qbi_deduction"`

	Tax            decimal.NullDecimal `json:"tax"`
	ChildTaxCredit decimal.Decimal     `json:"child_tax_credit"`
	OtherCredits   decimal.Decimal     `json:"other_credits"`
	OtherTaxes     decimal.Decimal     `json:"other_taxes"`

	Withholding              decimal.Decimal `json:"withholding"`
	EstimatedPayments        decimal.Decimal `json:"estimated_payments"`
	EarnedIncomeCredit       decimal.Decimal `json:"earned_income_credit"`
	AdditionalChildTaxCredit decimal.Decimal `json:"additional_child_tax_credit"`
	OtherPayments            decimal.Decimal `json:"other_payments"`
}

func (Form1040Input) FormType() FormType { return Form1040 }

// Form1040SRInput is Form 1040 for filers 65 or older.
type Form1040SRInput struct {
	Form1040Input
	PrimaryBirthDate time.Time `json:"primary_birth_date"`
}

func (Form1040SRInput) FormType() FormType { return Form1040SR }

func build1040(in Form1040Input, w *Writer) {
	write1040Body(in, w, nil)
}

func build1040SR(in Form1040SRInput, w *Writer) {
	write1040Body(in.Form1040Input, w, func(f *Writer) {
		f.RequiredDate("PrimaryBirthDt", in.PrimaryBirthDate)
	})
}

func write1040Body(in Form1040Input, w *Writer, extraFiler func(*Writer)) {
	f := w.Section("Filer")
	f.RequiredText("FilingStatusCd", string(in.FilingStatus))
	f.RequiredText("PrimaryFirstNm", in.Filer.FirstName)
	f.RequiredText("PrimaryLastNm", in.Filer.LastName)
	f.RequiredText("PrimarySSN", in.Filer.SSN)
	if extraFiler != nil {
		extraFiler(f)
	}
	f.Text("SpouseFirstNm", in.Filer.SpouseFirstName)
	f.Text("SpouseLastNm", in.Filer.SpouseLastName)
	f.Text("SpouseSSN", in.Filer.SpouseSSN)
	f.Count("DependentCnt", in.DependentCount)
	writeUSAddress(f, in.Filer.Address)

	totalIncome := sum(val(in.Wages), in.TaxableInterest, in.OrdinaryDividends, in.IRADistributions,
		in.PensionsAnnuities, in.SocialSecurityBenefits, in.CapitalGainLoss, in.AdditionalIncome)
	agi := totalIncome.Sub(in.Adjustments)

	inc := w.Section("Income")
	inc.RequiredAmount("WagesAmt", in.Wages)
	inc.Amount("TaxExemptInterestAmt", in.TaxExemptInterest)
	inc.Amount("TaxableInterestAmt", in.TaxableInterest)
	inc.Amount("QualifiedDividendsAmt", in.QualifiedDividends)
	inc.Amount("OrdinaryDividendsAmt", in.OrdinaryDividends)
	inc.Amount("IRADistributionsTaxableAmt", in.IRADistributions)
	inc.Amount("PensionsAnnuitiesTaxableAmt", in.PensionsAnnuities)
	inc.Amount("SocSecBnftTaxableAmt", in.SocialSecurityBenefits)
	inc.Amount("CapitalGainLossAmt", in.CapitalGainLoss)
	inc.Amount("AdditionalIncomeAmt", in.AdditionalIncome)
	inc.Total("TotalIncomeAmt", totalIncome)
	inc.Amount("AdjustmentsToIncomeAmt", in.Adjustments)
	inc.Total("AdjustedGrossIncomeAmt", agi)

	ded := w.Section("Deductions")
	ded.RequiredAmount("TotalDeductionAmt", in.Deduction)
	ded.Amount("QBIDeductionAmt", in.QBIDeduction)
	ded.Total("TaxableIncomeAmt", nonNegative(agi.Sub(val(in.Deduction)).Sub(in.QBIDeduction)))

	credits := in.ChildTaxCredit.Add(in.OtherCredits)
	totalTax := nonNegative(val(in.Tax).Sub(credits)).Add(in.OtherTaxes)

	tax := w.Section("TaxAndCredits")
	tax.RequiredAmount("TaxAmt", in.Tax)
	tax.Amount("ChildTaxCreditAmt", in.ChildTaxCredit)
	tax.Amount("OtherCreditsAmt", in.OtherCredits)
	tax.Total("TotalCreditsAmt", credits)
	tax.Amount("OtherTaxesAmt", in.OtherTaxes)
	tax.Total("TotalTaxAmt", totalTax)

	payments := sum(in.Withholding, in.EstimatedPayments, in.EarnedIncomeCredit,
		in.AdditionalChildTaxCredit, in.OtherPayments)

	pay := w.Section("Payments")
	pay.Amount("WithholdingTaxAmt", in.Withholding)
	pay.Amount("EstimatedTaxPaymentsAmt", in.EstimatedPayments)
	pay.Amount("EarnedIncomeCreditAmt", in.EarnedIncomeCredit)
	pay.Amount("AdditionalChildTaxCreditAmt", in.AdditionalChildTaxCredit)
	pay.Amount("OtherPaymentsAmt", in.OtherPayments)
	pay.Total("TotalPaymentsAmt", payments)

	writeRefundOrOwed(w, payments, totalTax)
}

func writeUSAddress(w *Writer, a Address) {
	addr := w.Section("USAddress")
	addr.RequiredText("AddressLine1Txt", a.Line1)
	addr.RequiredText("CityNm", a.City)
	addr.RequiredText("StateAbbreviationCd", a.State)
	addr.RequiredText("ZIPCd", a.ZIP)
}

func writeRefundOrOwed(w *Writer, payments, totalTax decimal.Decimal) {
	r := w.Section("RefundOrOwed")
	r.Total("RefundAmt", nonNegative(payments.Sub(totalTax)))
	r.Total("OwedAmt", nonNegative(totalTax.Sub(payments)))
}

// ForeignAddress is a mailing address outside the United States.
type ForeignAddress struct {
	Line1   string `json:"line1"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// Form1040NRInput carries Form 1040-NR line values.
type Form1040NRInput struct {
	FirstName          string         `json:"first_name"`
	LastName           string         `json:"last_name"`
	IdentifyingNumber  string         `json:"identifying_number"`
	CountryOfResidence string         `json:"country_of_residence"`
	Address            ForeignAddress `json:"address"`

	EffectivelyConnectedWages decimal.NullDecimal `json:"effectively_connected_wages"`
	ScholarshipGrants         decimal.Decimal     `json:"scholarship_grants"`
	TreatyExemptIncome        decimal.Decimal     `json:"treaty_exempt_income"`
	BusinessIncome            decimal.Decimal     `json:"business_income"`
	Adjustments               decimal.Decimal     `json:"adjustments"`
	ItemizedDeductions        decimal.Decimal     `json:"itemized_deductions"`

	Tax                        decimal.NullDecimal `json:"tax"`
	NotEffectivelyConnectedTax decimal.Decimal     `json:"not_effectively_connected_tax"`
	Withholding                decimal.Decimal     `json:"withholding"`
	Form1042SWithholding       decimal.Decimal     `json:"form_1042s_withholding"`
}

func (Form1040NRInput) FormType() FormType { return Form1040NR }

func build1040NR(in Form1040NRInput, w *Writer) {
	f := w.Section("Filer")
	f.RequiredText("PrimaryFirstNm", in.FirstName)
	f.RequiredText("PrimaryLastNm", in.LastName)
	f.RequiredText("PrimaryIdentifyingNum", in.IdentifyingNumber)
	f.RequiredText("CountryOfResidenceCd", in.CountryOfResidence)
	addr := f.Section("ForeignAddress")
	addr.RequiredText("AddressLine1Txt", in.Address.Line1)
	addr.RequiredText("CityNm", in.Address.City)
	addr.RequiredText("CountryCd", in.Address.Country)

	eci := sum(val(in.EffectivelyConnectedWages), in.ScholarshipGrants, in.BusinessIncome)
	agi := eci.Sub(in.Adjustments)

	inc := w.Section("Income")
	inc.RequiredAmount("EffectivelyConnectedWagesAmt", in.EffectivelyConnectedWages)
	inc.Amount("ScholarshipGrantsAmt", in.ScholarshipGrants)
	inc.Amount("TreatyExemptIncomeAmt", in.TreatyExemptIncome)
	inc.Amount("BusinessIncomeAmt", in.BusinessIncome)
	inc.Total("TotalEffectivelyConnectedIncomeAmt", eci)
	inc.Amount("AdjustmentsToIncomeAmt", in.Adjustments)
	inc.Total("AdjustedGrossIncomeAmt", agi)

	totalTax := val(in.Tax).Add(in.NotEffectivelyConnectedTax)
	tax := w.Section("TaxAndCredits")
	tax.Amount("ItemizedDeductionsAmt", in.ItemizedDeductions)
	tax.Total("TaxableIncomeAmt", nonNegative(agi.Sub(in.ItemizedDeductions)))
	tax.RequiredAmount("TaxAmt", in.Tax)
	tax.Amount("NotEffectivelyConnectedTaxAmt", in.NotEffectivelyConnectedTax)
	tax.Total("TotalTaxAmt", totalTax)

	payments := in.Withholding.Add(in.Form1042SWithholding)
	pay := w.Section("Payments")
	pay.Amount("WithholdingTaxAmt", in.Withholding)
	pay.Amount("Form1042SWithholdingAmt", in.Form1042SWithholding)
	pay.Total("TotalPaymentsAmt", payments)

	writeRefundOrOwed(w, payments, totalTax)
}

// AmendedLine is one line of Form 1040-X: the amount as originally reported and
// the corrected amount. The net change is derived.
type AmendedLine struct {
	Original decimal.NullDecimal `json:"original"`
	Correct  decimal.NullDecimal `json:"correct"`
}

// Form1040XInput carries the corrected figures of an amended return.
type Form1040XInput struct {
	FilingStatus  FilingStatus `json:"filing_status"`
	FirstName     string       `json:"first_name"`
	LastName      string       `json:"last_name"`
	SSN           string       `json:"ssn"`
	AGI           AmendedLine  `json:"agi"`
	Deductions    AmendedLine  `json:"deductions"`
	TaxableIncome AmendedLine  `json:"taxable_income"`
	TotalTax      AmendedLine  `json:"total_tax"`
	Payments      AmendedLine  `json:"payments"`
	Explanation   string       `json:"explanation"`
}

func (Form1040XInput) FormType() FormType { return Form1040X }

func build1040X(in Form1040XInput, w *Writer) {
	f := w.Section("Filer")
	f.RequiredText("FilingStatusCd", string(in.FilingStatus))
	f.RequiredText("PrimaryFirstNm", in.FirstName)
	f.RequiredText("PrimaryLastNm", in.LastName)
	f.RequiredText("PrimarySSN", in.SSN)

	lines := w.Section("Lines")
	writeAmendedLine(lines, "AGILine", in.AGI)
	writeAmendedLine(lines, "DeductionsLine", in.Deductions)
	writeAmendedLine(lines, "TaxableIncomeLine", in.TaxableIncome)
	writeAmendedLine(lines, "TotalTaxLine", in.TotalTax)
	writeAmendedLine(lines, "PaymentsLine", in.Payments)
	lines.Total("OverpaymentAmt", nonNegative(val(in.Payments.Correct).Sub(val(in.TotalTax.Correct))))
	lines.Total("BalanceDueAmt", nonNegative(val(in.TotalTax.Correct).Sub(val(in.Payments.Correct))))

	w.Section("Explanation").RequiredText("ExplanationOfChangesTxt", in.Explanation)
}

func writeAmendedLine(w *Writer, name string, l AmendedLine) {
	s := w.Section(name)
	s.RequiredAmount("OriginalAmt", l.Original)
	s.Total("NetChangeAmt", val(l.Correct).Sub(val(l.Original)))
	s.RequiredAmount("CorrectAmt", l.Correct)
}
