package forms_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"efile/internal/document"
	"efile/internal/forms"
	"efile/internal/forms/formstest"
	dErrors "efile/pkg/domain-errors"
	"efile/pkg/requestcontext"
)

type BuilderSuite struct {
	suite.Suite
	ctx context.Context
	svc *forms.Service
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.ctx = context.Background()
	s.svc = forms.NewService(forms.WithClock(func() time.Time { return formstest.Clock }))
}

func (s *BuilderSuite) build(in forms.Input) *document.Document {
	doc, err := s.svc.Build(s.ctx, in.FormType(), formstest.TaxYear, in)
	s.Require().NoError(err)
	return doc
}

func (s *BuilderSuite) text(doc *document.Document, path string) string {
	v, ok := doc.Root.Text(path)
	s.Require().True(ok, "missing %s", path)
	return v
}

func (s *BuilderSuite) TestDeterminism() {
	s.Run("same input and clock produce identical bytes", func() {
		first := s.build(formstest.ScheduleC()).Bytes()
		second := s.build(formstest.ScheduleC()).Bytes()
		s.Equal(first, second)
	})

	s.Run("pinned request time drives the default clock", func() {
		svc := forms.NewService()
		ctx := requestcontext.WithTime(s.ctx, formstest.Clock)
		a, err := svc.Build(ctx, forms.FormW2, formstest.TaxYear, formstest.W2())
		s.Require().NoError(err)
		b, err := svc.Build(ctx, forms.FormW2, formstest.TaxYear, formstest.W2())
		s.Require().NoError(err)
		s.Equal(a.Bytes(), b.Bytes())
	})

	s.Run("different clock changes only the timestamp", func() {
		later := forms.NewService(forms.WithClock(func() time.Time { return formstest.Clock.Add(time.Hour) }))
		doc, err := later.Build(s.ctx, forms.FormW2, formstest.TaxYear, formstest.W2())
		s.Require().NoError(err)
		s.NotEqual(s.build(formstest.W2()).Bytes(), doc.Bytes())
		s.Equal("2025-03-15T11:30:00Z", s.text(doc, "ReturnHeader/ReturnTs"))
	})
}

func (s *BuilderSuite) TestHeader() {
	doc := s.build(formstest.Form1040())

	s.Equal("2025-03-15T10:30:00Z", s.text(doc, "ReturnHeader/ReturnTs"))
	s.Equal("2024", s.text(doc, "ReturnHeader/TaxYr"))
	s.Equal("2024-01-01", s.text(doc, "ReturnHeader/TaxPeriodBeginDt"))
	s.Equal("2024-12-31", s.text(doc, "ReturnHeader/TaxPeriodEndDt"))
	s.Equal("1040", s.text(doc, "ReturnHeader/ReturnTypeCd"))
	s.Equal("EFILE000", s.text(doc, "ReturnHeader/SoftwareId"))

	version, _ := doc.Root.Attr(document.AttrReturnVersion)
	s.Equal(forms.CurrentSchemaVersion, version)
	cnt, _ := doc.Data().Attr(document.AttrDocumentCount)
	s.Equal("1", cnt)
}

func (s *BuilderSuite) TestIncompleteInput() {
	s.Run("names the first missing path", func() {
		in := formstest.ScheduleC()
		in.ProprietorName = "   "
		in.GrossReceipts.Valid = false

		_, err := s.svc.Build(s.ctx, forms.ScheduleC, formstest.TaxYear, in)
		s.Require().Error(err)

		var incomplete *forms.IncompleteInputError
		s.Require().ErrorAs(err, &incomplete)
		s.Equal([]string{
			"IRS1040ScheduleC/Business/ProprietorNm",
			"IRS1040ScheduleC/Income/GrossReceiptsAmt",
		}, incomplete.Paths)
		s.Contains(err.Error(), "IRS1040ScheduleC/Business/ProprietorNm")
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteInput))
	})

	s.Run("repeated entries report indexed paths", func() {
		in := forms.Form8995Input{
			Businesses: []forms.QualifiedBusiness{
				{Name: "A", TIN: "111111111", Income: forms.Amt("10.00")},
				{Name: "B", Income: forms.Amt("10.00")},
			},
			TaxableIncomeBeforeQBI: forms.Amt("100.00"),
		}
		_, err := s.svc.Build(s.ctx, forms.Form8995, formstest.TaxYear, in)

		var incomplete *forms.IncompleteInputError
		s.Require().ErrorAs(err, &incomplete)
		s.Equal([]string{"IRS8995/Businesses/QualifiedBusiness[2]/TaxpayerIdNum"}, incomplete.Paths)
	})

	s.Run("required zero amount is present, not missing", func() {
		in := formstest.W2()
		in.Withholding = forms.Amt("0")
		doc := s.build(in)
		s.Equal("0.00", s.text(doc, "ReturnData/IRSW2/Compensation/WithholdingAmt"))
	})

	s.Run("nil input", func() {
		_, err := s.svc.Build(s.ctx, forms.FormW2, formstest.TaxYear, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteInput))
	})
}

func (s *BuilderSuite) TestInputDispatch() {
	s.Run("pointer inputs are accepted", func() {
		in := formstest.W2()
		doc, err := s.svc.Build(s.ctx, forms.FormW2, formstest.TaxYear, &in)
		s.Require().NoError(err)
		s.Equal(s.build(formstest.W2()).Bytes(), doc.Bytes())
	})

	s.Run("input for another form is rejected", func() {
		_, err := s.svc.Build(s.ctx, forms.ScheduleC, formstest.TaxYear, formstest.W2())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown form type is rejected", func() {
		_, err := s.svc.Build(s.ctx, forms.FormType("IRS9999"), formstest.TaxYear, formstest.W2())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *BuilderSuite) TestRequiredFields() {
	s.Run("lists every required path of a form", func() {
		fields, err := s.svc.RequiredFields(forms.FormW2)
		s.Require().NoError(err)
		s.Equal([]string{
			"IRSW2/Employer/EmployerEIN",
			"IRSW2/Employer/EmployerNameTxt",
			"IRSW2/Employee/EmployeeSSN",
			"IRSW2/Employee/EmployeeNm",
			"IRSW2/Compensation/WagesAmt",
			"IRSW2/Compensation/WithholdingAmt",
		}, fields)
	})

	s.Run("every template has a builder", func() {
		s.Len(forms.Types(), 27)
		for _, ft := range forms.Types() {
			b, err := forms.Lookup(ft)
			s.Require().NoError(err, ft)
			s.Equal(ft, b.FormType())
			s.NotPanics(func() { b.RequiredFields() }, ft)
		}
	})
}

func (s *BuilderSuite) TestSamplesBuild() {
	samples := formstest.Samples()
	s.Len(samples, len(forms.Types()))
	for ft, in := range samples {
		doc, err := s.svc.Build(s.ctx, ft, formstest.TaxYear, in)
		s.Require().NoError(err, ft)
		s.Require().Len(doc.Bodies(), 1)
		s.Equal(string(ft), doc.Bodies()[0].Name)

		tmpl, ok := forms.Template(ft)
		s.Require().True(ok)
		var sections []string
		for _, c := range doc.Bodies()[0].Children {
			sections = append(sections, c.Name)
		}
		s.Equal(tmpl.Sections, sections, ft)
	}
}

func (s *BuilderSuite) TestAmounts() {
	in := formstest.ScheduleC()
	in.Expenses = forms.BusinessExpenses{}
	doc := s.build(in)

	s.Nil(doc.Root.Find("ReturnData/IRS1040ScheduleC/Expenses/AdvertisingAmt"), "zero optional amounts are omitted")
	s.Nil(doc.Root.Find("ReturnData/IRS1040ScheduleC/Expenses/BusinessUseOfHomeAmt"))
	s.Equal("0.00", s.text(doc, "ReturnData/IRS1040ScheduleC/Expenses/TotalExpensesAmt"), "totals are always written")
	s.Equal("10000.00", s.text(doc, "ReturnData/IRS1040ScheduleC/Expenses/NetProfitOrLossAmt"))
}

func (s *BuilderSuite) TestComputedLines() {
	s.Run("schedule C totals", func() {
		doc := s.build(formstest.ScheduleC())
		s.Equal("10000.00", s.text(doc, "ReturnData/IRS1040ScheduleC/Income/GrossIncomeAmt"))
		s.Equal("4000.00", s.text(doc, "ReturnData/IRS1040ScheduleC/Expenses/TotalExpensesAmt"))
		s.Equal("6000.00", s.text(doc, "ReturnData/IRS1040ScheduleC/Expenses/NetProfitOrLossAmt"))
	})

	s.Run("self-employment earnings and deductible half", func() {
		doc := s.build(formstest.ScheduleSE())
		s.Equal("5541.00", s.text(doc, "ReturnData/IRS1040ScheduleSE/Earnings/NetEarningsFromSEAmt"))
		s.Equal("423.89", s.text(doc, "ReturnData/IRS1040ScheduleSE/Tax/DeductibleSETaxAmt"))
	})

	s.Run("holding period splits 8949 totals", func() {
		doc := s.build(formstest.Samples()[forms.Form8949])
		s.Equal("SHORT", s.text(doc, "ReturnData/IRS8949/Transactions/Transaction[1]/HoldingPeriodCd"))
		s.Equal("LONG", s.text(doc, "ReturnData/IRS8949/Transactions/Transaction[2]/HoldingPeriodCd"))
		s.Equal("800.00", s.text(doc, "ReturnData/IRS8949/ShortTermTotals/GainLossAmt"))
		s.Equal("5000.00", s.text(doc, "ReturnData/IRS8949/LongTermTotals/GainLossAmt"))
	})

	s.Run("capital loss is limited", func() {
		doc := s.build(forms.ScheduleDInput{
			ShortTerm: forms.CapitalTotals{Proceeds: forms.Dec("1000"), CostBasis: forms.Dec("9000")},
		})
		s.Equal("-8000.00", s.text(doc, "ReturnData/IRS1040ScheduleD/Summary/NetCapitalGainLossAmt"))
		s.Equal("-3000.00", s.text(doc, "ReturnData/IRS1040ScheduleD/Summary/CapitalGainLossToReportAmt"))
	})

	s.Run("foreign income is converted at the given rate", func() {
		doc := s.build(formstest.Samples()[forms.Form2555])
		s.Equal("1.080000", s.text(doc, "ReturnData/IRS2555/Income/ExchangeRt"))
		s.Equal("54000.00", s.text(doc, "ReturnData/IRS2555/Income/ForeignEarnedIncomeUSDAmt"))
		s.Equal("54000.00", s.text(doc, "ReturnData/IRS2555/Exclusion/ForeignEarnedIncomeExclusionAmt"))
	})
}

func (s *BuilderSuite) TestTextNormalization() {
	in := formstest.W2()
	in.EmployerName = "  Babbage \n  Labs "
	doc := s.build(in)
	s.Equal("Babbage Labs", s.text(doc, "ReturnData/IRSW2/Employer/EmployerNameTxt"))
}

func (s *BuilderSuite) TestCompose() {
	doc, err := formstest.SelfEmployed().Build(s.ctx, s.svc)
	s.Require().NoError(err)

	var names []string
	for _, b := range doc.Bodies() {
		names = append(names, b.Name)
	}
	s.Equal([]string{
		"IRS1040", "IRSW2", "IRS1099NEC", "IRS4562", "IRS1040ScheduleC",
		"IRS1040ScheduleSE", "IRS1040Schedule1", "IRS1040Schedule2",
	}, names)
	cnt, _ := doc.Data().Attr(document.AttrDocumentCount)
	s.Equal("8", cnt)
	s.Equal("1040", s.text(doc, "ReturnHeader/ReturnTypeCd"))
}
