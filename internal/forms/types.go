// Package forms turns typed form inputs into canonical return documents.
//
// Every supported form is a FormType whose value is the element name of its body
// under ReturnData. A lookup table maps each FormType to a Builder; all builders
// share one interface and one header assembly path.
package forms

import (
	"fmt"
)

// FormType is the closed set of forms and schedules the pipeline can file.
type FormType string

const (
	Form1040   FormType = "IRS1040"
	Form1040SR FormType = "IRS1040SR"
	Form1040NR FormType = "IRS1040NR"
	Form1040X  FormType = "IRS1040X"

	Schedule1    FormType = "IRS1040Schedule1"
	Schedule2    FormType = "IRS1040Schedule2"
	Schedule3    FormType = "IRS1040Schedule3"
	ScheduleA    FormType = "IRS1040ScheduleA"
	ScheduleB    FormType = "IRS1040ScheduleB"
	ScheduleC    FormType = "IRS1040ScheduleC"
	ScheduleD    FormType = "IRS1040ScheduleD"
	ScheduleE    FormType = "IRS1040ScheduleE"
	ScheduleF    FormType = "IRS1040ScheduleF"
	ScheduleH    FormType = "IRS1040ScheduleH"
	ScheduleSE   FormType = "IRS1040ScheduleSE"
	Schedule8812 FormType = "IRS1040Schedule8812"

	Form8949    FormType = "IRS8949"
	Form2555    FormType = "IRS2555"
	Form1116    FormType = "IRS1116"
	Form8995    FormType = "IRS8995"
	Form4562    FormType = "IRS4562"
	Form8829    FormType = "IRS8829"
	Form2441    FormType = "IRS2441"
	Form8863    FormType = "IRS8863"
	Form8962    FormType = "IRS8962"
	FormW2      FormType = "IRSW2"
	Form1099NEC FormType = "IRS1099NEC"

	// Unknown is reported by detection when no fingerprint matches.
	Unknown FormType = "UNKNOWN"
)

// CurrentSchemaVersion is the schema revision builders emit by default.
const CurrentSchemaVersion = "2024v5.0"

// TemplateSpec describes how one form renders: its return type code, the schema
// revision it targets, and the sections every instance carries.
type TemplateSpec struct {
	FormType      FormType
	Title         string
	ReturnType    string
	SchemaVersion string
	Primary       bool
	Sections      []string
}

// templates is declared in filing order; detection and Types rely on it.
var templates = []TemplateSpec{
	{Form1040, "U.S. Individual Income Tax Return", "1040", CurrentSchemaVersion, true,
		[]string{"Filer", "Income", "Deductions", "TaxAndCredits", "Payments", "RefundOrOwed"}},
	{Form1040SR, "U.S. Tax Return for Seniors", "1040-SR", CurrentSchemaVersion, true,
		[]string{"Filer", "Income", "Deductions", "TaxAndCredits", "Payments", "RefundOrOwed"}},
	{Form1040NR, "U.S. Nonresident Alien Income Tax Return", "1040-NR", CurrentSchemaVersion, true,
		[]string{"Filer", "Income", "TaxAndCredits", "Payments", "RefundOrOwed"}},
	{Form1040X, "Amended U.S. Individual Income Tax Return", "1040-X", CurrentSchemaVersion, true,
		[]string{"Filer", "Lines", "Explanation"}},

	{Schedule1, "Additional Income and Adjustments to Income", "1040", CurrentSchemaVersion, false,
		[]string{"AdditionalIncome", "Adjustments"}},
	{Schedule2, "Additional Taxes", "1040", CurrentSchemaVersion, false, []string{"Taxes"}},
	{Schedule3, "Additional Credits and Payments", "1040", CurrentSchemaVersion, false,
		[]string{"NonrefundableCredits", "OtherPayments"}},
	{ScheduleA, "Itemized Deductions", "1040", CurrentSchemaVersion, false,
		[]string{"Medical", "TaxesPaid", "Interest", "Gifts", "Other"}},
	{ScheduleB, "Interest and Ordinary Dividends", "1040", CurrentSchemaVersion, false,
		[]string{"Interest", "Dividends", "ForeignAccounts"}},
	{ScheduleC, "Profit or Loss From Business", "1040", CurrentSchemaVersion, false,
		[]string{"Business", "Income", "Expenses"}},
	{ScheduleD, "Capital Gains and Losses", "1040", CurrentSchemaVersion, false,
		[]string{"ShortTerm", "LongTerm", "Summary"}},
	{ScheduleE, "Supplemental Income and Loss", "1040", CurrentSchemaVersion, false,
		[]string{"Properties", "Summary"}},
	{ScheduleF, "Profit or Loss From Farming", "1040", CurrentSchemaVersion, false,
		[]string{"Farm", "Income", "Expenses"}},
	{ScheduleH, "Household Employment Taxes", "1040", CurrentSchemaVersion, false,
		[]string{"Employer", "Taxes"}},
	{ScheduleSE, "Self-Employment Tax", "1040", CurrentSchemaVersion, false,
		[]string{"Earnings", "Tax"}},
	{Schedule8812, "Credits for Qualifying Children and Other Dependents", "1040", CurrentSchemaVersion, false,
		[]string{"Dependents", "Credits"}},

	{Form8949, "Sales and Other Dispositions of Capital Assets", "1040", CurrentSchemaVersion, false,
		[]string{"Transactions", "ShortTermTotals", "LongTermTotals"}},
	{Form2555, "Foreign Earned Income", "1040", CurrentSchemaVersion, false,
		[]string{"Residence", "Income", "Exclusion"}},
	{Form1116, "Foreign Tax Credit", "1040", CurrentSchemaVersion, false,
		[]string{"Category", "Taxes", "Credit"}},
	{Form8995, "Qualified Business Income Deduction", "1040", CurrentSchemaVersion, false,
		[]string{"Businesses", "Deduction"}},
	{Form4562, "Depreciation and Amortization", "1040", CurrentSchemaVersion, false,
		[]string{"Activity", "Depreciation"}},
	{Form8829, "Expenses for Business Use of Your Home", "1040", CurrentSchemaVersion, false,
		[]string{"Area", "Expenses"}},
	{Form2441, "Child and Dependent Care Expenses", "1040", CurrentSchemaVersion, false,
		[]string{"Providers", "Credit"}},
	{Form8863, "Education Credits", "1040", CurrentSchemaVersion, false,
		[]string{"Students", "Credits"}},
	{Form8962, "Premium Tax Credit", "1040", CurrentSchemaVersion, false,
		[]string{"Household", "Coverage", "Reconciliation"}},
	{FormW2, "Wage and Tax Statement", "1040", CurrentSchemaVersion, false,
		[]string{"Employer", "Employee", "Compensation"}},
	{Form1099NEC, "Nonemployee Compensation", "1040", CurrentSchemaVersion, false,
		[]string{"Payer", "Recipient", "Compensation"}},
}

var templateIndex = func() map[FormType]int {
	idx := make(map[FormType]int, len(templates))
	for i, t := range templates {
		idx[t.FormType] = i
	}
	return idx
}()

// Template returns the builder template for ft.
func Template(ft FormType) (TemplateSpec, bool) {
	i, ok := templateIndex[ft]
	if !ok {
		return TemplateSpec{}, false
	}
	return templates[i], true
}

// Types returns every supported form type in declaration order.
func Types() []FormType {
	out := make([]FormType, len(templates))
	for i, t := range templates {
		out[i] = t.FormType
	}
	return out
}

// ParseFormType validates a form type name.
func ParseFormType(s string) (FormType, error) {
	ft := FormType(s)
	if _, ok := templateIndex[ft]; !ok {
		return "", fmt.Errorf("unsupported form type %q", s)
	}
	return ft, nil
}

func (ft FormType) String() string { return string(ft) }

// IsPrimary reports whether ft is a return that schedules attach to.
func (ft FormType) IsPrimary() bool {
	t, ok := Template(ft)
	return ok && t.Primary
}
