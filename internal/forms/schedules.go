package forms

import (
	"github.com/shopspring/decimal"
)

// Schedule1Input reports additional income and adjustments.
type Schedule1Input struct {
	TaxableRefunds              decimal.Decimal `json:"taxable_refunds"`
	AlimonyReceived             decimal.Decimal `json:"alimony_received"`
	BusinessIncomeLoss          decimal.Decimal `json:"business_income_loss"`
	OtherGainLoss               decimal.Decimal `json:"other_gain_loss"`
	RentalRealEstateIncome      decimal.Decimal `json:"rental_real_estate_income"`
	FarmIncomeLoss              decimal.Decimal `json:"farm_income_loss"`
	UnemploymentCompensation    decimal.Decimal `json:"unemployment_compensation"`
	ForeignEarnedIncomeExcl     decimal.Decimal `json:"foreign_earned_income_exclusion"`
	OtherIncome                 decimal.Decimal `json:"other_income"`
	EducatorExpenses            decimal.Decimal `json:"educator_expenses"`
	HSADeduction                decimal.Decimal `json:"hsa_deduction"`
	DeductibleSelfEmployment    decimal.Decimal `json:"deductible_self_employment_tax"`
	SelfEmployedHealthInsurance decimal.Decimal `json:"self_employed_health_insurance"`
	IRADeduction                decimal.Decimal `json:"ira_deduction"`
	StudentLoanInterest         decimal.Decimal `json:"student_loan_interest"`
}

func (Schedule1Input) FormType() FormType { return Schedule1 }

func buildSchedule1(in Schedule1Input, w *Writer) {
	income := w.Section("AdditionalIncome")
	income.Amount("TaxableRefundsAmt", in.TaxableRefunds)
	income.Amount("AlimonyReceivedAmt", in.AlimonyReceived)
	income.Amount("BusinessIncomeLossAmt", in.BusinessIncomeLoss)
	income.Amount("OtherGainLossAmt", in.OtherGainLoss)
	income.Amount("RentalRealEstateIncomeLossAmt", in.RentalRealEstateIncome)
	income.Amount("FarmIncomeLossAmt", in.FarmIncomeLoss)
	income.Amount("UnemploymentCompAmt", in.UnemploymentCompensation)
	income.Amount("ForeignEarnedIncomeExclusionAmt", in.ForeignEarnedIncomeExcl)
	income.Amount("OtherIncomeAmt", in.OtherIncome)
	income.Total("TotalAdditionalIncomeAmt", sum(in.TaxableRefunds, in.AlimonyReceived, in.BusinessIncomeLoss,
		in.OtherGainLoss, in.RentalRealEstateIncome, in.FarmIncomeLoss, in.UnemploymentCompensation,
		in.OtherIncome).Sub(in.ForeignEarnedIncomeExcl))

	adj := w.Section("Adjustments")
	adj.Amount("EducatorExpensesAmt", in.EducatorExpenses)
	adj.Amount("HSADeductionAmt", in.HSADeduction)
	adj.Amount("DeductibleSelfEmploymentTaxAmt", in.DeductibleSelfEmployment)
	adj.Amount("SelfEmployedHealthInsuranceAmt", in.SelfEmployedHealthInsurance)
	adj.Amount("IRADeductionAmt", in.IRADeduction)
	adj.Amount("StudentLoanInterestDedAmt", in.StudentLoanInterest)
	adj.Total("TotalAdjustmentsAmt", sum(in.EducatorExpenses, in.HSADeduction, in.DeductibleSelfEmployment,
		in.SelfEmployedHealthInsurance, in.IRADeduction, in.StudentLoanInterest))
}

// Schedule2Input reports additional taxes.
type Schedule2Input struct {
	AlternativeMinimumTax  decimal.Decimal `json:"alternative_minimum_tax"`
	ExcessAdvancePTCRepay  decimal.Decimal `json:"excess_advance_ptc_repayment"`
	SelfEmploymentTax      decimal.Decimal `json:"self_employment_tax"`
	HouseholdEmploymentTax decimal.Decimal `json:"household_employment_tax"`
	AdditionalMedicareTax  decimal.Decimal `json:"additional_medicare_tax"`
	NetInvestmentIncomeTax decimal.Decimal `json:"net_investment_income_tax"`
}

func (Schedule2Input) FormType() FormType { return Schedule2 }

func buildSchedule2(in Schedule2Input, w *Writer) {
	t := w.Section("Taxes")
	t.Amount("AlternativeMinimumTaxAmt", in.AlternativeMinimumTax)
	t.Amount("ExcessAdvncPremiumTaxCrRepayAmt", in.ExcessAdvancePTCRepay)
	t.Amount("SelfEmploymentTaxAmt", in.SelfEmploymentTax)
	t.Amount("HouseholdEmploymentTaxAmt", in.HouseholdEmploymentTax)
	t.Amount("AdditionalMedicareTaxAmt", in.AdditionalMedicareTax)
	t.Amount("NetInvestmentIncomeTaxAmt", in.NetInvestmentIncomeTax)
	t.Total("TotalOtherTaxesAmt", sum(in.AlternativeMinimumTax, in.ExcessAdvancePTCRepay, in.SelfEmploymentTax,
		in.HouseholdEmploymentTax, in.AdditionalMedicareTax, in.NetInvestmentIncomeTax))
}

// Schedule3Input reports nonrefundable credits and other payments.
type Schedule3Input struct {
	ForeignTaxCredit        decimal.Decimal `json:"foreign_tax_credit"`
	ChildCareCredit         decimal.Decimal `json:"child_care_credit"`
	EducationCredit         decimal.Decimal `json:"education_credit"`
	RetirementSavingsCredit decimal.Decimal `json:"retirement_savings_credit"`
	ResidentialEnergyCredit decimal.Decimal `json:"residential_energy_credit"`
	NetPremiumTaxCredit     decimal.Decimal `json:"net_premium_tax_credit"`
	PaidWithExtension       decimal.Decimal `json:"paid_with_extension"`
	ExcessSocSecWithheld    decimal.Decimal `json:"excess_social_security_withheld"`
}

func (Schedule3Input) FormType() FormType { return Schedule3 }

func buildSchedule3(in Schedule3Input, w *Writer) {
	cr := w.Section("NonrefundableCredits")
	cr.Amount("ForeignTaxCreditAmt", in.ForeignTaxCredit)
	cr.Amount("ChildAndDependentCareCrAmt", in.ChildCareCredit)
	cr.Amount("EducationCreditAmt", in.EducationCredit)
	cr.Amount("RetirementSavingsCntrbCrAmt", in.RetirementSavingsCredit)
	cr.Amount("ResidentialEnergyCreditAmt", in.ResidentialEnergyCredit)
	cr.Total("TotalNonrefundableCreditsAmt", sum(in.ForeignTaxCredit, in.ChildCareCredit, in.EducationCredit,
		in.RetirementSavingsCredit, in.ResidentialEnergyCredit))

	pay := w.Section("OtherPayments")
	pay.Amount("NetPremiumTaxCreditAmt", in.NetPremiumTaxCredit)
	pay.Amount("AmountPaidWithExtensionAmt", in.PaidWithExtension)
	pay.Amount("ExcessSocSecWithheldAmt", in.ExcessSocSecWithheld)
	pay.Total("TotalOtherPaymentsAmt", sum(in.NetPremiumTaxCredit, in.PaidWithExtension, in.ExcessSocSecWithheld))
}

var (
	medicalFloorRate = Dec("0.075")
	saltCap          = Dec("10000")
)

// ScheduleAInput reports itemized deductions.
type ScheduleAInput struct {
	MedicalAndDental       decimal.Decimal     `json:"medical_and_dental"`
	AdjustedGrossIncome    decimal.NullDecimal `json:"adjusted_gross_income"`
	StateAndLocalIncomeTax decimal.Decimal     `json:"state_and_local_income_tax"`
	RealEstateTax          decimal.Decimal     `json:"real_estate_tax"`
	PersonalPropertyTax    decimal.Decimal     `json:"personal_property_tax"`
	HomeMortgageInterest   decimal.Decimal     `json:"home_mortgage_interest"`
	MortgageInsurance      decimal.Decimal     `json:"mortgage_insurance"`
	InvestmentInterest     decimal.Decimal     `json:"investment_interest"`
	GiftsByCash            decimal.Decimal     `json:"gifts_by_cash"`
	GiftsOtherThanCash     decimal.Decimal     `json:"gifts_other_than_cash"`
	GiftCarryover          decimal.Decimal     `json:"gift_carryover"`
	CasualtyTheftLoss      decimal.Decimal     `json:"casualty_theft_loss"`
	OtherItemized          decimal.Decimal     `json:"other_itemized"`
}

func (ScheduleAInput) FormType() FormType { return ScheduleA }

func buildScheduleA(in ScheduleAInput, w *Writer) {
	medical := nonNegative(in.MedicalAndDental.Sub(val(in.AdjustedGrossIncome).Mul(medicalFloorRate).Round(2)))
	med := w.Section("Medical")
	med.Amount("MedicalAndDentalExpensesAmt", in.MedicalAndDental)
	med.RequiredAmount("AdjustedGrossIncomeAmt", in.AdjustedGrossIncome)
	med.Total("MedicalExpensesDeductibleAmt", medical)

	salt := decimal.Min(sum(in.StateAndLocalIncomeTax, in.RealEstateTax, in.PersonalPropertyTax), saltCap)
	taxes := w.Section("TaxesPaid")
	taxes.Amount("StateAndLocalIncomeTaxAmt", in.StateAndLocalIncomeTax)
	taxes.Amount("RealEstateTaxAmt", in.RealEstateTax)
	taxes.Amount("PersonalPropertyTaxAmt", in.PersonalPropertyTax)
	taxes.Total("SALTDeductionAmt", salt)

	interestTotal := sum(in.HomeMortgageInterest, in.MortgageInsurance, in.InvestmentInterest)
	interest := w.Section("Interest")
	interest.Amount("HomeMortgageInterestAmt", in.HomeMortgageInterest)
	interest.Amount("MortgageInsurancePremiumsAmt", in.MortgageInsurance)
	interest.Amount("InvestmentInterestAmt", in.InvestmentInterest)
	interest.Total("TotalInterestPaidAmt", interestTotal)

	giftsTotal := sum(in.GiftsByCash, in.GiftsOtherThanCash, in.GiftCarryover)
	gifts := w.Section("Gifts")
	gifts.Amount("GiftsByCashAmt", in.GiftsByCash)
	gifts.Amount("GiftsOtherThanCashAmt", in.GiftsOtherThanCash)
	gifts.Amount("CarryoverFromPriorYearAmt", in.GiftCarryover)
	gifts.Total("TotalGiftsAmt", giftsTotal)

	other := w.Section("Other")
	other.Amount("CasualtyTheftLossAmt", in.CasualtyTheftLoss)
	other.Amount("OtherItemizedDeductionsAmt", in.OtherItemized)
	other.Total("TotalItemizedDeductionsAmt", sum(medical, salt, interestTotal, giftsTotal,
		in.CasualtyTheftLoss, in.OtherItemized))
}

// PayerAmount is one payer line on Schedule B.
type PayerAmount struct {
	Payer  string              `json:"payer"`
	Amount decimal.NullDecimal `json:"amount"`
}

// ScheduleBInput lists interest and dividend payers.
type ScheduleBInput struct {
	Interest        []PayerAmount `json:"interest"`
	Dividends       []PayerAmount `json:"dividends"`
	ForeignAccounts bool          `json:"foreign_accounts"`
	ForeignTrust    bool          `json:"foreign_trust"`
	ForeignCountry  string        `json:"foreign_country,omitempty"`
}

func (ScheduleBInput) FormType() FormType { return ScheduleB }

func buildScheduleB(in ScheduleBInput, w *Writer) {
	interest := w.Section("Interest")
	total := decimal.Zero
	for i, p := range in.Interest {
		e := interest.Entry("InterestPayer", i+1)
		e.RequiredText("PayerNm", p.Payer)
		e.RequiredAmount("InterestAmt", p.Amount)
		total = total.Add(val(p.Amount))
	}
	interest.Total("TotalInterestAmt", total)

	dividends := w.Section("Dividends")
	total = decimal.Zero
	for i, p := range in.Dividends {
		e := dividends.Entry("DividendPayer", i+1)
		e.RequiredText("PayerNm", p.Payer)
		e.RequiredAmount("OrdinaryDividendsAmt", p.Amount)
		total = total.Add(val(p.Amount))
	}
	dividends.Total("TotalOrdinaryDividendsAmt", total)

	foreign := w.Section("ForeignAccounts")
	foreign.Flag("ForeignAccountsInd", in.ForeignAccounts)
	foreign.Flag("ForeignTrustInd", in.ForeignTrust)
	foreign.Text("ForeignCountryCd", in.ForeignCountry)
}

// CapitalTotals are the summary figures of one holding period.
type CapitalTotals struct {
	Proceeds    decimal.Decimal `json:"proceeds"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	Adjustments decimal.Decimal `json:"adjustments"`
}

func (c CapitalTotals) gain() decimal.Decimal {
	return c.Proceeds.Sub(c.CostBasis).Add(c.Adjustments)
}

var (
	capitalLossLimit         = Dec("-3000")
	capitalLossLimitSeparate = Dec("-1500")
)

// ScheduleDInput summarizes capital gains and losses.
type ScheduleDInput struct {
	ShortTerm                CapitalTotals   `json:"short_term"`
	LongTerm                 CapitalTotals   `json:"long_term"`
	ShortTermCarryover       decimal.Decimal `json:"short_term_carryover"`
	LongTermCarryover        decimal.Decimal `json:"long_term_carryover"`
	CapitalGainDistributions decimal.Decimal `json:"capital_gain_distributions"`
	MarriedFilingSeparately  bool            `json:"married_filing_separately"`
}

func (ScheduleDInput) FormType() FormType { return ScheduleD }

func buildScheduleD(in ScheduleDInput, w *Writer) {
	st := in.ShortTerm.gain().Sub(in.ShortTermCarryover)
	short := w.Section("ShortTerm")
	writeCapitalTotals(short, in.ShortTerm)
	short.Amount("ShortTermCarryoverLossAmt", in.ShortTermCarryover)
	short.Total("NetShortTermGainLossAmt", st)

	lt := in.LongTerm.gain().Add(in.CapitalGainDistributions).Sub(in.LongTermCarryover)
	long := w.Section("LongTerm")
	writeCapitalTotals(long, in.LongTerm)
	long.Amount("CapitalGainDistributionsAmt", in.CapitalGainDistributions)
	long.Amount("LongTermCarryoverLossAmt", in.LongTermCarryover)
	long.Total("NetLongTermGainLossAmt", lt)

	net := st.Add(lt)
	limit := capitalLossLimit
	if in.MarriedFilingSeparately {
		limit = capitalLossLimitSeparate
	}
	s := w.Section("Summary")
	s.Total("NetCapitalGainLossAmt", net)
	s.Total("CapitalGainLossToReportAmt", decimal.Max(net, limit))
}

func writeCapitalTotals(w *Writer, c CapitalTotals) {
	w.Total("ProceedsAmt", c.Proceeds)
	w.Total("CostBasisAmt", c.CostBasis)
	w.Total("AdjustmentsAmt", c.Adjustments)
	w.Total("GainLossAmt", c.gain())
}

// RentalProperty is one property line on Schedule E.
type RentalProperty struct {
	Address           string          `json:"address"`
	PropertyType      string          `json:"property_type"`
	FairRentalDays    int             `json:"fair_rental_days"`
	PersonalUseDays   int             `json:"personal_use_days"`
	RentsReceived     decimal.Decimal `json:"rents_received"`
	RoyaltiesReceived decimal.Decimal `json:"royalties_received"`
	Expenses          decimal.Decimal `json:"expenses"`
	Depreciation      decimal.Decimal `json:"depreciation"`
}

// ScheduleEInput reports rental, royalty and pass-through income.
type ScheduleEInput struct {
	Properties             []RentalProperty `json:"properties"`
	PartnershipSCorpIncome decimal.Decimal  `json:"partnership_s_corp_income"`
	EstateTrustIncome      decimal.Decimal  `json:"estate_trust_income"`
}

func (ScheduleEInput) FormType() FormType { return ScheduleE }

func buildScheduleE(in ScheduleEInput, w *Writer) {
	props := w.Section("Properties")
	rental := decimal.Zero
	for i, p := range in.Properties {
		net := p.RentsReceived.Add(p.RoyaltiesReceived).Sub(p.Expenses).Sub(p.Depreciation)
		e := props.Entry("Property", i+1)
		e.RequiredText("PropertyAddressTxt", p.Address)
		e.RequiredText("PropertyTypeCd", p.PropertyType)
		e.Count("FairRentalDaysCnt", p.FairRentalDays)
		e.Count("PersonalUseDaysCnt", p.PersonalUseDays)
		e.Amount("RentsReceivedAmt", p.RentsReceived)
		e.Amount("RoyaltiesReceivedAmt", p.RoyaltiesReceived)
		e.Amount("ExpensesAmt", p.Expenses)
		e.Amount("DepreciationAmt", p.Depreciation)
		e.Total("NetIncomeLossAmt", net)
		rental = rental.Add(net)
	}

	s := w.Section("Summary")
	s.Total("TotalRentalRoyaltyIncomeLossAmt", rental)
	s.Amount("PartnershipSCorpIncomeLossAmt", in.PartnershipSCorpIncome)
	s.Amount("EstateTrustIncomeLossAmt", in.EstateTrustIncome)
	s.Total("TotalSupplementalIncomeLossAmt", sum(rental, in.PartnershipSCorpIncome, in.EstateTrustIncome))
}

// Schedule8812Input reports the child tax credit.
type Schedule8812Input struct {
	QualifyingChildren       int                 `json:"qualifying_children"`
	OtherDependents          int                 `json:"other_dependents"`
	ModifiedAGI              decimal.NullDecimal `json:"modified_agi"`
	ChildTaxCredit           decimal.NullDecimal `json:"child_tax_credit"`
	AdditionalChildTaxCredit decimal.Decimal     `json:"additional_child_tax_credit"`
}

func (Schedule8812Input) FormType() FormType { return Schedule8812 }

func buildSchedule8812(in Schedule8812Input, w *Writer) {
	d := w.Section("Dependents")
	d.RequiredCount("QualifyingChildrenCnt", in.QualifyingChildren)
	d.Count("OtherDependentsCnt", in.OtherDependents)

	c := w.Section("Credits")
	c.RequiredAmount("ModifiedAGIAmt", in.ModifiedAGI)
	c.RequiredAmount("ChildTaxCreditAmt", in.ChildTaxCredit)
	c.Amount("AdditionalChildTaxCreditAmt", in.AdditionalChildTaxCredit)
}
