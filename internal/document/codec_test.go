package document

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	h := Header{
		Timestamp:     time.Date(2025, 2, 14, 9, 30, 0, 0, time.UTC),
		TaxYear:       2024,
		PeriodBegin:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		ReturnType:    "1040",
		SoftwareID:    "EF000001",
		SchemaVersion: "2024v5.0",
	}
	body := NewNode("IRS1040ScheduleC").Append(
		Leaf("BusinessNameLine1Txt", `Smith & Sons "Plumbing"`),
		Leaf("GrossReceiptsAmt", FormatAmount(decimal.RequireFromString("10000"))),
		Leaf("TotalExpensesAmt", FormatAmount(decimal.RequireFromString("4000"))),
	)
	return New(h, body)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	doc := sampleDocument()
	first := doc.Bytes()

	parsed, err := ParseDocument(first)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(parsed.Bytes()))

	assert.Equal(t, "2024v5.0", parsed.Header.SchemaVersion)
	assert.Equal(t, "IRS1040ScheduleC", parsed.Header.FormType)
	assert.Equal(t, doc.Header.Timestamp, parsed.Header.Timestamp)
	assert.Equal(t, "EF000001", parsed.Header.SoftwareID)
}

func TestEncode(t *testing.T) {
	t.Run("escapes text and attributes", func(t *testing.T) {
		n := NewNode("A")
		n.SetAttr("note", `a<b"c`)
		n.Append(Leaf("B", "x & y"))
		assert.Equal(t, `<A note="a&lt;b&#34;c"><B>x &amp; y</B></A>`, string(n.Marshal()))
	})

	t.Run("empty element is self-closing", func(t *testing.T) {
		assert.Equal(t, `<Empty/>`, string(NewNode("Empty").Marshal()))
	})

	t.Run("amounts carry two fraction digits", func(t *testing.T) {
		assert.Equal(t, "6000.00", FormatAmount(decimal.NewFromInt(6000)))
		assert.Equal(t, "0.10", FormatAmount(decimal.RequireFromString("0.1")))
		assert.Equal(t, "-12.35", FormatAmount(decimal.RequireFromString("-12.345")))
	})
}

func TestParse(t *testing.T) {
	t.Run("ignores indentation between elements", func(t *testing.T) {
		n, err := Parse([]byte("<A>\n  <B>1</B>\n  <C> spaced </C>\n</A>"))
		require.NoError(t, err)
		require.Len(t, n.Children, 2)
		assert.Equal(t, "1", n.Children[0].Value)
		assert.Equal(t, " spaced ", n.Children[1].Value)
		assert.Equal(t, 2, n.Children[0].Line)
	})

	t.Run("keeps namespace prefixes verbatim", func(t *testing.T) {
		in := `<efile:Return xmlns:efile="urn:x"><efile:Id>1</efile:Id></efile:Return>`
		n, err := Parse([]byte(in))
		require.NoError(t, err)
		assert.Equal(t, "efile:Return", n.Name)
		assert.Equal(t, in, string(n.Marshal()))
	})

	cases := map[string]string{
		"mismatched end tag": "<A><B></C></A>",
		"unclosed element":   "<A><B>",
		"two roots":          "<A/><B/>",
		"mixed content":      "<A>text<B/></A>",
		"empty input":        "",
		"text outside root":  "junk<A/>",
	}
	for name, in := range cases {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
		})
	}
}

func TestPaths(t *testing.T) {
	root := NewNode("Form8949").Append(
		NewNode("Transaction").Append(Leaf("ProceedsAmt", "10.00")),
		NewNode("Transaction").Append(Leaf("ProceedsAmt", "20.00")),
		Leaf("TotalProceedsAmt", "30.00"),
	)

	v, ok := root.Text("Transaction[2]/ProceedsAmt")
	require.True(t, ok)
	assert.Equal(t, "20.00", v)

	amt, ok := root.AmountAt("TotalProceedsAmt")
	require.True(t, ok)
	assert.True(t, amt.Equal(decimal.NewFromInt(30)))

	assert.Nil(t, root.Find("Transaction[3]"))
	assert.Nil(t, root.Find("Missing/Path"))

	var paths []string
	root.Walk(func(path string, n *Node) bool {
		if n.IsLeaf() {
			paths = append(paths, path)
		}
		return true
	})
	assert.Equal(t, []string{
		"Transaction[1]/ProceedsAmt",
		"Transaction[2]/ProceedsAmt",
		"TotalProceedsAmt",
	}, paths)

	assert.Equal(t, []LeafPath{
		{Path: "Transaction[1]/ProceedsAmt", Value: "10.00"},
		{Path: "Transaction[2]/ProceedsAmt", Value: "20.00"},
		{Path: "TotalProceedsAmt", Value: "30.00"},
	}, root.Leaves())
}

func TestAttachDoesNotMutate(t *testing.T) {
	doc := sampleDocument()
	before := string(doc.Bytes())

	combined := doc.Attach(NewNode("IRS1040ScheduleSE").Append(Leaf("NetProfitAmt", "6000.00")))

	assert.Equal(t, before, string(doc.Bytes()))
	require.Len(t, combined.Bodies(), 2)
	cnt, _ := combined.Data().Attr(AttrDocumentCount)
	assert.Equal(t, "2", cnt)
}

func TestValidationOutcome(t *testing.T) {
	a := Valid()
	b := Valid()
	b.AddConsistency(ConsistencyError{Rule: "r", Schedules: []string{"x", "y"}, Message: "m"})

	merged := a.Merge(b)
	assert.False(t, merged.IsValid)
	assert.Equal(t, []string{"r [x,y]: m"}, merged.Messages())
	assert.True(t, a.IsValid)
}
