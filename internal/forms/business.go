package forms

import (
	"time"

	"github.com/shopspring/decimal"
)

// Accounting method codes shared by Schedules C and F.
const (
	AccountingCash    = "CASH"
	AccountingAccrual = "ACCRUAL"
	AccountingOther   = "OTHER"
)

// BusinessExpenses are the Part II expense lines of Schedule C.
type BusinessExpenses struct {
	Advertising          decimal.Decimal `json:"advertising"`
	CarAndTruck          decimal.Decimal `json:"car_and_truck"`
	ContractLabor        decimal.Decimal `json:"contract_labor"`
	Depreciation         decimal.Decimal `json:"depreciation"`
	Insurance            decimal.Decimal `json:"insurance"`
	LegalAndProfessional decimal.Decimal `json:"legal_and_professional"`
	OfficeExpense        decimal.Decimal `json:"office_expense"`
	RentOrLease          decimal.Decimal `json:"rent_or_lease"`
	Supplies             decimal.Decimal `json:"supplies"`
	Travel               decimal.Decimal `json:"travel"`
	Meals                decimal.Decimal `json:"meals"`
	Utilities            decimal.Decimal `json:"utilities"`
	Wages                decimal.Decimal `json:"wages"`
	Other                decimal.Decimal `json:"other"`
}

func (e BusinessExpenses) total() decimal.Decimal {
	return sum(e.Advertising, e.CarAndTruck, e.ContractLabor, e.Depreciation, e.Insurance,
		e.LegalAndProfessional, e.OfficeExpense, e.RentOrLease, e.Supplies, e.Travel, e.Meals,
		e.Utilities, e.Wages, e.Other)
}

// ScheduleCInput is one sole proprietorship.
type ScheduleCInput struct {
	ProprietorName        string              `json:"proprietor_name"`
	SSN                   string              `json:"ssn"`
	BusinessName          string              `json:"business_name"`
	PrincipalBusinessCode string              `json:"principal_business_code"`
	EIN                   string              `json:"ein,omitempty"`
	AccountingMethod      string              `json:"accounting_method"`
	GrossReceipts         decimal.NullDecimal `json:"gross_receipts"`
	ReturnsAndAllowances  decimal.Decimal     `json:"returns_and_allowances"`
	CostOfGoodsSold       decimal.Decimal     `json:"cost_of_goods_sold"`
	OtherIncome           decimal.Decimal     `json:"other_income"`
	Expenses              BusinessExpenses    `json:"expenses"`
	BusinessUseOfHome     decimal.Decimal     `json:"business_use_of_home"`
}

func (ScheduleCInput) FormType() FormType { return ScheduleC }

func buildScheduleC(in ScheduleCInput, w *Writer) {
	b := w.Section("Business")
	b.RequiredText("ProprietorNm", in.ProprietorName)
	b.RequiredText("SSN", in.SSN)
	b.RequiredText("BusinessNameLine1Txt", in.BusinessName)
	b.RequiredText("PrincipalBusinessActivityCd", in.PrincipalBusinessCode)
	b.Text("EIN", in.EIN)
	b.RequiredText("AccountingMethodCd", in.AccountingMethod)

	gross := val(in.GrossReceipts).Sub(in.ReturnsAndAllowances).Sub(in.CostOfGoodsSold).Add(in.OtherIncome)
	inc := w.Section("Income")
	inc.RequiredAmount("GrossReceiptsAmt", in.GrossReceipts)
	inc.Amount("ReturnsAndAllowancesAmt", in.ReturnsAndAllowances)
	inc.Amount("CostOfGoodsSoldAmt", in.CostOfGoodsSold)
	inc.Amount("OtherIncomeAmt", in.OtherIncome)
	inc.Total("GrossIncomeAmt", gross)

	x := in.Expenses
	total := x.total()
	exp := w.Section("Expenses")
	exp.Amount("AdvertisingAmt", x.Advertising)
	exp.Amount("CarAndTruckExpensesAmt", x.CarAndTruck)
	exp.Amount("ContractLaborAmt", x.ContractLabor)
	exp.Amount("DepreciationAmt", x.Depreciation)
	exp.Amount("InsuranceAmt", x.Insurance)
	exp.Amount("LegalAndProfessionalAmt", x.LegalAndProfessional)
	exp.Amount("OfficeExpenseAmt", x.OfficeExpense)
	exp.Amount("RentOrLeaseAmt", x.RentOrLease)
	exp.Amount("SuppliesAmt", x.Supplies)
	exp.Amount("TravelAmt", x.Travel)
	exp.Amount("MealsAmt", x.Meals)
	exp.Amount("UtilitiesAmt", x.Utilities)
	exp.Amount("WagesAmt", x.Wages)
	exp.Amount("OtherExpensesAmt", x.Other)
	exp.Total("TotalExpensesAmt", total)
	exp.Amount("BusinessUseOfHomeAmt", in.BusinessUseOfHome)
	exp.Total("NetProfitOrLossAmt", gross.Sub(total).Sub(in.BusinessUseOfHome))
}

// ScheduleFInput is one farming activity.
type ScheduleFInput struct {
	ProprietorName           string          `json:"proprietor_name"`
	SSN                      string          `json:"ssn"`
	PrincipalProduct         string          `json:"principal_product"`
	AgriculturalActivity     string          `json:"agricultural_activity"`
	AccountingMethod         string          `json:"accounting_method"`
	SalesOfLivestock         decimal.Decimal `json:"sales_of_livestock"`
	SalesOfProducts          decimal.Decimal `json:"sales_of_products"`
	CooperativeDistributions decimal.Decimal `json:"cooperative_distributions"`
	ProgramPayments          decimal.Decimal `json:"program_payments"`
	OtherIncome              decimal.Decimal `json:"other_income"`
	Feed                     decimal.Decimal `json:"feed"`
	Fertilizers              decimal.Decimal `json:"fertilizers"`
	LaborHired               decimal.Decimal `json:"labor_hired"`
	RentOrLease              decimal.Decimal `json:"rent_or_lease"`
	Repairs                  decimal.Decimal `json:"repairs"`
	Depreciation             decimal.Decimal `json:"depreciation"`
	OtherExpenses            decimal.Decimal `json:"other_expenses"`
}

func (ScheduleFInput) FormType() FormType { return ScheduleF }

func buildScheduleF(in ScheduleFInput, w *Writer) {
	f := w.Section("Farm")
	f.RequiredText("ProprietorNm", in.ProprietorName)
	f.RequiredText("SSN", in.SSN)
	f.RequiredText("PrincipalProductTxt", in.PrincipalProduct)
	f.RequiredText("AgriculturalActivityCd", in.AgriculturalActivity)
	f.RequiredText("AccountingMethodCd", in.AccountingMethod)

	gross := sum(in.SalesOfLivestock, in.SalesOfProducts, in.CooperativeDistributions, in.ProgramPayments, in.OtherIncome)
	inc := w.Section("Income")
	inc.Amount("SalesOfLivestockAmt", in.SalesOfLivestock)
	inc.Amount("SalesOfProductsRaisedAmt", in.SalesOfProducts)
	inc.Amount("CooperativeDistributionsAmt", in.CooperativeDistributions)
	inc.Amount("AgriculturalProgramPaymentsAmt", in.ProgramPayments)
	inc.Amount("OtherIncomeAmt", in.OtherIncome)
	inc.Total("GrossIncomeAmt", gross)

	total := sum(in.Feed, in.Fertilizers, in.LaborHired, in.RentOrLease, in.Repairs, in.Depreciation, in.OtherExpenses)
	exp := w.Section("Expenses")
	exp.Amount("FeedAmt", in.Feed)
	exp.Amount("FertilizersAmt", in.Fertilizers)
	exp.Amount("LaborHiredAmt", in.LaborHired)
	exp.Amount("RentOrLeaseAmt", in.RentOrLease)
	exp.Amount("RepairsAmt", in.Repairs)
	exp.Amount("DepreciationAmt", in.Depreciation)
	exp.Amount("OtherExpensesAmt", in.OtherExpenses)
	exp.Total("TotalExpensesAmt", total)
	exp.Total("NetFarmProfitOrLossAmt", gross.Sub(total))
}

var seEarningsRate = Dec("0.9235")

// ScheduleSEInput reports self-employment earnings and the computed tax.
type ScheduleSEInput struct {
	ProprietorName    string              `json:"proprietor_name"`
	SSN               string              `json:"ssn"`
	NetFarmProfit     decimal.Decimal     `json:"net_farm_profit"`
	NetNonFarmProfit  decimal.NullDecimal `json:"net_nonfarm_profit"`
	SelfEmploymentTax decimal.NullDecimal `json:"self_employment_tax"`
}

func (ScheduleSEInput) FormType() FormType { return ScheduleSE }

func buildScheduleSE(in ScheduleSEInput, w *Writer) {
	total := in.NetFarmProfit.Add(val(in.NetNonFarmProfit))
	e := w.Section("Earnings")
	e.RequiredText("ProprietorNm", in.ProprietorName)
	e.RequiredText("SSN", in.SSN)
	e.Amount("NetFarmProfitLossAmt", in.NetFarmProfit)
	e.RequiredAmount("NetNonFarmProfitLossAmt", in.NetNonFarmProfit)
	e.Total("TotalSEIncomeAmt", total)
	e.Total("NetEarningsFromSEAmt", nonNegative(total.Mul(seEarningsRate).Round(2)))

	t := w.Section("Tax")
	t.RequiredAmount("SelfEmploymentTaxAmt", in.SelfEmploymentTax)
	t.Total("DeductibleSETaxAmt", val(in.SelfEmploymentTax).Div(decimal.NewFromInt(2)).Round(2))
}

// ScheduleHInput reports household employment taxes.
type ScheduleHInput struct {
	EmployerName       string              `json:"employer_name"`
	EIN                string              `json:"ein"`
	CashWages          decimal.NullDecimal `json:"cash_wages"`
	SocialSecurityTax  decimal.Decimal     `json:"social_security_tax"`
	MedicareTax        decimal.Decimal     `json:"medicare_tax"`
	FederalWithholding decimal.Decimal     `json:"federal_withholding"`
	FUTA               decimal.Decimal     `json:"futa"`
}

func (ScheduleHInput) FormType() FormType { return ScheduleH }

func buildScheduleH(in ScheduleHInput, w *Writer) {
	e := w.Section("Employer")
	e.RequiredText("EmployerNm", in.EmployerName)
	e.RequiredText("EIN", in.EIN)

	t := w.Section("Taxes")
	t.RequiredAmount("TotalCashWagesAmt", in.CashWages)
	t.Amount("SocialSecurityTaxAmt", in.SocialSecurityTax)
	t.Amount("MedicareTaxAmt", in.MedicareTax)
	t.Amount("FederalIncomeTaxWithheldAmt", in.FederalWithholding)
	t.Amount("FUTAAmt", in.FUTA)
	t.Total("TotalHouseholdEmploymentTaxAmt", sum(in.SocialSecurityTax, in.MedicareTax, in.FederalWithholding, in.FUTA))
}

// Form4562Input reports depreciation for one activity.
type Form4562Input struct {
	Activity          string          `json:"activity"`
	IdentifyingNumber string          `json:"identifying_number"`
	Section179        decimal.Decimal `json:"section_179"`
	SpecialAllowance  decimal.Decimal `json:"special_allowance"`
	MACRS             decimal.Decimal `json:"macrs"`
	ListedProperty    decimal.Decimal `json:"listed_property"`
	Amortization      decimal.Decimal `json:"amortization"`
}

func (Form4562Input) FormType() FormType { return Form4562 }

func build4562(in Form4562Input, w *Writer) {
	a := w.Section("Activity")
	a.RequiredText("BusinessOrActivityTxt", in.Activity)
	a.RequiredText("IdentifyingNum", in.IdentifyingNumber)

	d := w.Section("Depreciation")
	d.Amount("Section179ExpenseAmt", in.Section179)
	d.Amount("SpecialDepreciationAllowanceAmt", in.SpecialAllowance)
	d.Amount("MACRSDeductionAmt", in.MACRS)
	d.Amount("ListedPropertyDeprecAmt", in.ListedProperty)
	d.Amount("AmortizationAmt", in.Amortization)
	d.Total("TotalDepreciationAmt", sum(in.Section179, in.SpecialAllowance, in.MACRS, in.ListedProperty))
}

// Form8829Input reports the business use of a home.
type Form8829Input struct {
	BusinessArea     int                 `json:"business_area"`
	TotalArea        int                 `json:"total_area"`
	TentativeProfit  decimal.NullDecimal `json:"tentative_profit"`
	DirectExpenses   decimal.Decimal     `json:"direct_expenses"`
	IndirectExpenses decimal.Decimal     `json:"indirect_expenses"`
}

func (Form8829Input) FormType() FormType { return Form8829 }

func build8829(in Form8829Input, w *Writer) {
	pct := decimal.Zero
	if in.TotalArea > 0 {
		pct = decimal.NewFromInt(int64(in.BusinessArea)).Div(decimal.NewFromInt(int64(in.TotalArea))).Round(6)
	}
	a := w.Section("Area")
	a.RequiredCount("BusinessAreaSqFtCnt", in.BusinessArea)
	a.RequiredCount("TotalAreaSqFtCnt", in.TotalArea)
	a.Ratio("BusinessPercentageRt", pct)

	indirect := in.IndirectExpenses.Mul(pct).Round(2)
	e := w.Section("Expenses")
	e.RequiredAmount("TentativeProfitAmt", in.TentativeProfit)
	e.Amount("DirectExpensesAmt", in.DirectExpenses)
	e.Amount("IndirectExpensesAmt", in.IndirectExpenses)
	e.Total("AllowableIndirectAmt", indirect)
	e.Total("AllowableDeductionAmt", nonNegative(decimal.Min(in.DirectExpenses.Add(indirect), val(in.TentativeProfit))))
}

var (
	qbiRate = Dec("0.20")
)

// QualifiedBusiness is one trade or business on Form 8995.
type QualifiedBusiness struct {
	Name   string              `json:"name"`
	TIN    string              `json:"tin"`
	Income decimal.NullDecimal `json:"income"`
}

// Form8995Input reports the simplified QBI deduction.
type Form8995Input struct {
	Businesses             []QualifiedBusiness `json:"businesses"`
	TaxableIncomeBeforeQBI decimal.NullDecimal `json:"taxable_income_before_qbi"`
	NetCapitalGain         decimal.Decimal     `json:"net_capital_gain"`
}

func (Form8995Input) FormType() FormType { return Form8995 }

func build8995(in Form8995Input, w *Writer) {
	bs := w.Section("Businesses")
	bs.RequireEntries("QualifiedBusiness", len(in.Businesses))
	total := decimal.Zero
	for i, b := range in.Businesses {
		e := bs.Entry("QualifiedBusiness", i+1)
		e.RequiredText("BusinessNm", b.Name)
		e.RequiredText("TaxpayerIdNum", b.TIN)
		e.RequiredAmount("QualifiedBusinessIncomeAmt", b.Income)
		total = total.Add(val(b.Income))
	}

	component := nonNegative(total.Mul(qbiRate).Round(2))
	limitation := nonNegative(val(in.TaxableIncomeBeforeQBI).Sub(in.NetCapitalGain)).Mul(qbiRate).Round(2)
	d := w.Section("Deduction")
	d.Total("TotalQBIAmt", total)
	d.Total("QBIComponentAmt", component)
	d.RequiredAmount("TaxableIncomeBeforeQBIAmt", in.TaxableIncomeBeforeQBI)
	d.Amount("NetCapitalGainAmt", in.NetCapitalGain)
	d.Total("IncomeLimitationAmt", limitation)
	d.Total("QBIDeductionAmt", decimal.Min(component, limitation))
}

// W2Input is one wage and tax statement.
type W2Input struct {
	EmployerEIN         string              `json:"employer_ein"`
	EmployerName        string              `json:"employer_name"`
	EmployeeSSN         string              `json:"employee_ssn"`
	EmployeeName        string              `json:"employee_name"`
	Wages               decimal.NullDecimal `json:"wages"`
	Withholding         decimal.NullDecimal `json:"withholding"`
	SocialSecurityWages decimal.Decimal     `json:"social_security_wages"`
	SocialSecurityTax   decimal.Decimal     `json:"social_security_tax"`
	MedicareWages       decimal.Decimal     `json:"medicare_wages"`
	MedicareTax         decimal.Decimal     `json:"medicare_tax"`
	State               string              `json:"state,omitempty"`
	StateWages          decimal.Decimal     `json:"state_wages"`
}

func (W2Input) FormType() FormType { return FormW2 }

func buildW2(in W2Input, w *Writer) {
	er := w.Section("Employer")
	er.RequiredText("EmployerEIN", in.EmployerEIN)
	er.RequiredText("EmployerNameTxt", in.EmployerName)

	ee := w.Section("Employee")
	ee.RequiredText("EmployeeSSN", in.EmployeeSSN)
	ee.RequiredText("EmployeeNm", in.EmployeeName)

	c := w.Section("Compensation")
	c.RequiredAmount("WagesAmt", in.Wages)
	c.RequiredAmount("WithholdingAmt", in.Withholding)
	c.Amount("SocialSecurityWagesAmt", in.SocialSecurityWages)
	c.Amount("SocialSecurityTaxAmt", in.SocialSecurityTax)
	c.Amount("MedicareWagesAmt", in.MedicareWages)
	c.Amount("MedicareTaxAmt", in.MedicareTax)
	c.Text("StateAbbreviationCd", in.State)
	c.Amount("StateWagesAmt", in.StateWages)
}

// Form1099NECInput is one nonemployee compensation statement.
type Form1099NECInput struct {
	PayerTIN           string              `json:"payer_tin"`
	PayerName          string              `json:"payer_name"`
	RecipientTIN       string              `json:"recipient_tin"`
	RecipientName      string              `json:"recipient_name"`
	Compensation       decimal.NullDecimal `json:"compensation"`
	FederalWithholding decimal.Decimal     `json:"federal_withholding"`
}

func (Form1099NECInput) FormType() FormType { return Form1099NEC }

func build1099NEC(in Form1099NECInput, w *Writer) {
	p := w.Section("Payer")
	p.RequiredText("PayerTIN", in.PayerTIN)
	p.RequiredText("PayerNameTxt", in.PayerName)

	r := w.Section("Recipient")
	r.RequiredText("RecipientTIN", in.RecipientTIN)
	r.RequiredText("RecipientNm", in.RecipientName)

	c := w.Section("Compensation")
	c.RequiredAmount("NonemployeeCompensationAmt", in.Compensation)
	c.Amount("FederalIncomeTaxWithheldAmt", in.FederalWithholding)
}

// Holding period codes on Form 8949.
const (
	HoldingShort = "SHORT"
	HoldingLong  = "LONG"
)

// CapitalTransaction is one disposition on Form 8949.
type CapitalTransaction struct {
	Description string              `json:"description"`
	Acquired    time.Time           `json:"acquired"`
	Sold        time.Time           `json:"sold"`
	Proceeds    decimal.NullDecimal `json:"proceeds"`
	CostBasis   decimal.NullDecimal `json:"cost_basis"`
	Adjustment  decimal.Decimal     `json:"adjustment"`
}

// HoldingPeriod classifies the transaction: long-term when held more than one year.
func (t CapitalTransaction) HoldingPeriod() string {
	if !t.Acquired.IsZero() && t.Sold.After(t.Acquired.AddDate(1, 0, 0)) {
		return HoldingLong
	}
	return HoldingShort
}

// Form8949Input lists capital asset dispositions.
type Form8949Input struct {
	Transactions []CapitalTransaction `json:"transactions"`
}

func (Form8949Input) FormType() FormType { return Form8949 }

func build8949(in Form8949Input, w *Writer) {
	txs := w.Section("Transactions")
	txs.RequireEntries("Transaction", len(in.Transactions))
	var short, long CapitalTotals
	for i, t := range in.Transactions {
		gain := val(t.Proceeds).Sub(val(t.CostBasis)).Add(t.Adjustment)
		period := t.HoldingPeriod()
		e := txs.Entry("Transaction", i+1)
		e.RequiredText("PropertyDesc", t.Description)
		e.RequiredDate("AcquiredDt", t.Acquired)
		e.RequiredDate("SoldDt", t.Sold)
		e.RequiredText("HoldingPeriodCd", period)
		e.RequiredAmount("ProceedsAmt", t.Proceeds)
		e.RequiredAmount("CostBasisAmt", t.CostBasis)
		e.Amount("AdjustmentAmt", t.Adjustment)
		e.Total("GainLossAmt", gain)

		bucket := &short
		if period == HoldingLong {
			bucket = &long
		}
		bucket.Proceeds = bucket.Proceeds.Add(val(t.Proceeds))
		bucket.CostBasis = bucket.CostBasis.Add(val(t.CostBasis))
		bucket.Adjustments = bucket.Adjustments.Add(t.Adjustment)
	}
	writeCapitalTotals(w.Section("ShortTermTotals"), short)
	writeCapitalTotals(w.Section("LongTermTotals"), long)
}
