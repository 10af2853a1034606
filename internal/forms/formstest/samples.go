// Package formstest provides complete form inputs for tests and the CLI's
// sample command. The self-employed return is internally consistent: every
// transferred line matches its source schedule.
package formstest

import (
	"context"
	"time"

	"efile/internal/document"
	"efile/internal/forms"
	id "efile/pkg/domain"
)

// Clock is the pinned build time used by fixtures.
var Clock = time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)

// TaxYear is the tax year every fixture is filed for.
const TaxYear id.TaxYear = 2024

var (
	amt = forms.Amt
	dec = forms.Dec
)

func filer() forms.Filer {
	return forms.Filer{
		FirstName: "Ada",
		LastName:  "Lovelace",
		SSN:       "123456789",
		Address: forms.Address{
			Line1: "1 Analytical Way",
			City:  "San Francisco",
			State: "CA",
			ZIP:   "94105",
		},
	}
}

// Form1040 is the primary return of the self-employed scenario.
func Form1040() forms.Form1040Input {
	return forms.Form1040Input{
		FilingStatus:     forms.FilingSingle,
		Filer:            filer(),
		Wages:            amt("50000.00"),
		AdditionalIncome: dec("6000.00"),
		Adjustments:      dec("423.89"),
		Deduction:        amt("14600.00"),
		Tax:              amt("3500.00"),
		OtherTaxes:       dec("847.77"),
		Withholding:      dec("5000.00"),
	}
}

// ScheduleC reports gross receipts of 10000 and expenses of 4000.
func ScheduleC() forms.ScheduleCInput {
	return forms.ScheduleCInput{
		ProprietorName:        "Ada Lovelace",
		SSN:                   "123456789",
		BusinessName:          "Difference Engines",
		PrincipalBusinessCode: "541511",
		AccountingMethod:      forms.AccountingCash,
		GrossReceipts:         amt("10000.00"),
		Expenses: forms.BusinessExpenses{
			Depreciation: dec("1000.00"),
			Supplies:     dec("3000.00"),
		},
	}
}

func ScheduleSE() forms.ScheduleSEInput {
	return forms.ScheduleSEInput{
		ProprietorName:    "Ada Lovelace",
		SSN:               "123456789",
		NetNonFarmProfit:  amt("6000.00"),
		SelfEmploymentTax: amt("847.77"),
	}
}

func Schedule1() forms.Schedule1Input {
	return forms.Schedule1Input{
		BusinessIncomeLoss:       dec("6000.00"),
		DeductibleSelfEmployment: dec("423.89"),
	}
}

func Schedule2() forms.Schedule2Input {
	return forms.Schedule2Input{SelfEmploymentTax: dec("847.77")}
}

func Form4562() forms.Form4562Input {
	return forms.Form4562Input{
		Activity:          "Difference Engines",
		IdentifyingNumber: "987654321",
		MACRS:             dec("1000.00"),
	}
}

func W2() forms.W2Input {
	return forms.W2Input{
		EmployerEIN:  "987654321",
		EmployerName: "Babbage Labs",
		EmployeeSSN:  "123456789",
		EmployeeName: "Ada Lovelace",
		Wages:        amt("50000.00"),
		Withholding:  amt("5000.00"),
		State:        "CA",
		StateWages:   dec("50000.00"),
	}
}

func Form1099NEC() forms.Form1099NECInput {
	return forms.Form1099NECInput{
		PayerTIN:      "123123123",
		PayerName:     "Analytical Society",
		RecipientTIN:  "123456789",
		RecipientName: "Ada Lovelace",
		Compensation:  amt("10000.00"),
	}
}

// Scenario is a primary return plus attachments in filing order.
type Scenario struct {
	Primary     forms.Input
	Attachments []forms.Input
}

// SelfEmployed is a wage earner with one consistent sole proprietorship.
func SelfEmployed() Scenario {
	return Scenario{
		Primary: Form1040(),
		Attachments: []forms.Input{
			W2(), Form1099NEC(), Form4562(), ScheduleC(), ScheduleSE(), Schedule1(), Schedule2(),
		},
	}
}

// Build renders every form of the scenario and composes them into one return.
func (s Scenario) Build(ctx context.Context, svc *forms.Service) (*document.Document, error) {
	primary, err := svc.Build(ctx, s.Primary.FormType(), TaxYear, s.Primary)
	if err != nil {
		return nil, err
	}
	attached := make([]*document.Document, 0, len(s.Attachments))
	for _, in := range s.Attachments {
		doc, err := svc.Build(ctx, in.FormType(), TaxYear, in)
		if err != nil {
			return nil, err
		}
		attached = append(attached, doc)
	}
	return forms.Compose(primary, attached...), nil
}

// Samples returns one complete input per supported form type.
func Samples() map[forms.FormType]forms.Input {
	return map[forms.FormType]forms.Input{
		forms.Form1040: Form1040(),
		forms.Form1040SR: forms.Form1040SRInput{
			Form1040Input:    Form1040(),
			PrimaryBirthDate: time.Date(1955, time.June, 1, 0, 0, 0, 0, time.UTC),
		},
		forms.Form1040NR: forms.Form1040NRInput{
			FirstName:          "Emmy",
			LastName:           "Noether",
			IdentifyingNumber:  "912345678",
			CountryOfResidence: "DE",
			Address: forms.ForeignAddress{
				Line1:   "Bunsenstrasse 3",
				City:    "Goettingen",
				Country: "DE",
			},
			EffectivelyConnectedWages: amt("42000.00"),
			Tax:                       amt("4100.00"),
			Withholding:               dec("4500.00"),
		},
		forms.Form1040X: forms.Form1040XInput{
			FilingStatus:  forms.FilingSingle,
			FirstName:     "Ada",
			LastName:      "Lovelace",
			SSN:           "123456789",
			AGI:           forms.AmendedLine{Original: amt("55576.11"), Correct: amt("56576.11")},
			Deductions:    forms.AmendedLine{Original: amt("14600.00"), Correct: amt("14600.00")},
			TaxableIncome: forms.AmendedLine{Original: amt("40976.11"), Correct: amt("41976.11")},
			TotalTax:      forms.AmendedLine{Original: amt("4347.77"), Correct: amt("4567.77")},
			Payments:      forms.AmendedLine{Original: amt("5000.00"), Correct: amt("5000.00")},
			Explanation:   "Unreported consulting income",
		},
		forms.Schedule1: Schedule1(),
		forms.Schedule2: Schedule2(),
		forms.Schedule3: forms.Schedule3Input{
			ForeignTaxCredit: dec("120.00"),
			EducationCredit:  dec("500.00"),
		},
		forms.ScheduleA: forms.ScheduleAInput{
			MedicalAndDental:       dec("6000.00"),
			AdjustedGrossIncome:    amt("55576.11"),
			StateAndLocalIncomeTax: dec("4200.00"),
			RealEstateTax:          dec("7800.00"),
			HomeMortgageInterest:   dec("9100.00"),
			GiftsByCash:            dec("750.00"),
		},
		forms.ScheduleB: forms.ScheduleBInput{
			Interest: []forms.PayerAmount{
				{Payer: "First Bank", Amount: amt("1200.00")},
				{Payer: "Second Bank", Amount: amt("450.25")},
			},
			Dividends: []forms.PayerAmount{{Payer: "Index Fund", Amount: amt("800.00")}},
		},
		forms.ScheduleC: ScheduleC(),
		forms.ScheduleD: forms.ScheduleDInput{
			ShortTerm: forms.CapitalTotals{Proceeds: dec("5000.00"), CostBasis: dec("4200.00")},
			LongTerm:  forms.CapitalTotals{Proceeds: dec("12000.00"), CostBasis: dec("7000.00")},
		},
		forms.ScheduleE: forms.ScheduleEInput{
			Properties: []forms.RentalProperty{{
				Address:        "12 Rental Row, Oakland CA",
				PropertyType:   "1",
				FairRentalDays: 365,
				RentsReceived:  dec("24000.00"),
				Expenses:       dec("9000.00"),
				Depreciation:   dec("5000.00"),
			}},
		},
		forms.ScheduleF: forms.ScheduleFInput{
			ProprietorName:       "Ada Lovelace",
			SSN:                  "123456789",
			PrincipalProduct:     "Apples",
			AgriculturalActivity: "111331",
			AccountingMethod:     forms.AccountingCash,
			SalesOfProducts:      dec("18000.00"),
			Feed:                 dec("2000.00"),
			LaborHired:           dec("6000.00"),
		},
		forms.ScheduleH: forms.ScheduleHInput{
			EmployerName:      "Ada Lovelace",
			EIN:               "987654321",
			CashWages:         amt("3000.00"),
			SocialSecurityTax: dec("372.00"),
			MedicareTax:       dec("87.00"),
		},
		forms.ScheduleSE: ScheduleSE(),
		forms.Schedule8812: forms.Schedule8812Input{
			QualifyingChildren: 2,
			ModifiedAGI:        amt("55576.11"),
			ChildTaxCredit:     amt("4000.00"),
		},
		forms.Form8949: forms.Form8949Input{
			Transactions: []forms.CapitalTransaction{
				{
					Description: "100 sh XYZ",
					Acquired:    time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
					Sold:        time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC),
					Proceeds:    amt("5000.00"),
					CostBasis:   amt("4200.00"),
				},
				{
					Description: "50 sh ABC",
					Acquired:    time.Date(2020, time.May, 4, 0, 0, 0, 0, time.UTC),
					Sold:        time.Date(2024, time.September, 9, 0, 0, 0, 0, time.UTC),
					Proceeds:    amt("12000.00"),
					CostBasis:   amt("7000.00"),
				},
			},
		},
		forms.Form2555: forms.Form2555Input{
			ForeignCountry:   "DE",
			QualifyingTest:   forms.TestPhysicalPresence,
			DaysPresent:      340,
			Currency:         "EUR",
			ForeignIncome:    amt("50000.00"),
			ExchangeRate:     dec("1.08"),
			MaximumExclusion: amt("126500.00"),
		},
		forms.Form1116: forms.Form1116Input{
			Category:            "GENERAL",
			ForeignCountry:      "DE",
			Currency:            "EUR",
			ForeignTaxesPaid:    amt("1000.00"),
			ExchangeRate:        dec("1.08"),
			ForeignSourceIncome: amt("20000.00"),
			TotalIncome:         amt("80000.00"),
			USTaxLiability:      amt("9000.00"),
		},
		forms.Form8995: forms.Form8995Input{
			Businesses: []forms.QualifiedBusiness{
				{Name: "Difference Engines", TIN: "987654321", Income: amt("6000.00")},
			},
			TaxableIncomeBeforeQBI: amt("40976.11"),
		},
		forms.Form4562: Form4562(),
		forms.Form8829: forms.Form8829Input{
			BusinessArea:     200,
			TotalArea:        2000,
			TentativeProfit:  amt("6000.00"),
			DirectExpenses:   dec("300.00"),
			IndirectExpenses: dec("12000.00"),
		},
		forms.Form2441: forms.Form2441Input{
			Providers: []forms.CareProvider{
				{Name: "Little Steps Daycare", TIN: "456456456", Paid: amt("4500.00")},
			},
			QualifyingPersons: 1,
			ApplicableRate:    dec("0.20"),
		},
		forms.Form8863: forms.Form8863Input{
			Students: []forms.Student{{
				Name:                "Byron Lovelace",
				SSN:                 "321321321",
				Institution:         "State University",
				QualifiedExpenses:   amt("4000.00"),
				AmericanOpportunity: true,
			}},
		},
		forms.Form8962: forms.Form8962Input{
			FamilySize:      2,
			HouseholdIncome: amt("38000.00"),
			AnnualPremium:   amt("9600.00"),
			AnnualSLCSP:     amt("8400.00"),
			Contribution:    amt("2100.00"),
			AdvancePayments: dec("6000.00"),
		},
		forms.FormW2:      W2(),
		forms.Form1099NEC: Form1099NEC(),
	}
}
