package document

import (
	"strconv"
	"time"

	id "efile/pkg/domain"
)

// Envelope element and attribute names shared by every return.
const (
	ElemReturn       = "Return"
	ElemReturnHeader = "ReturnHeader"
	ElemReturnData   = "ReturnData"

	AttrNamespace          = "xmlns"
	AttrReturnVersion      = "returnVersion"
	AttrDocumentCount      = "documentCnt"
	AttrAmended            = "amendedReturnInd"
	AttrOriginalSubmission = "originalSubmissionId"

	Namespace = "http://www.irs.gov/efile"

	TimestampLayout = "2006-01-02T15:04:05Z07:00"
	DateLayout      = "2006-01-02"
)

// Header is the metadata carried in ReturnHeader.
type Header struct {
	Timestamp     time.Time
	TaxYear       id.TaxYear
	PeriodBegin   time.Time
	PeriodEnd     time.Time
	ReturnType    string
	FormType      string
	SoftwareID    string
	SchemaVersion string
}

// Document is one return ready for serialization: a Return root holding the
// header element and a ReturnData element with one subtree per attached form.
type Document struct {
	Header Header
	Root   *Node
}

// New assembles the Return envelope around the given form bodies.
func New(h Header, bodies ...*Node) *Document {
	root := &Node{Name: ElemReturn}
	root.SetAttr(AttrNamespace, Namespace)
	root.SetAttr(AttrReturnVersion, h.SchemaVersion)

	hdr := NewNode(ElemReturnHeader).Append(
		Leaf("ReturnTs", h.Timestamp.UTC().Format(TimestampLayout)),
		Leaf("TaxYr", h.TaxYear.String()),
		Leaf("TaxPeriodBeginDt", h.PeriodBegin.Format(DateLayout)),
		Leaf("TaxPeriodEndDt", h.PeriodEnd.Format(DateLayout)),
		Leaf("ReturnTypeCd", h.ReturnType),
		Leaf("SoftwareId", h.SoftwareID),
	)
	data := NewNode(ElemReturnData)
	data.Append(bodies...)
	data.SetAttr(AttrDocumentCount, strconv.Itoa(len(bodies)))
	root.Append(hdr, data)

	return &Document{Header: h, Root: root}
}

// Bytes returns the canonical serialization.
func (d *Document) Bytes() []byte {
	return Encode(d.Root)
}

// Data returns the ReturnData element.
func (d *Document) Data() *Node {
	return d.Root.Child(ElemReturnData)
}

// Bodies returns the form subtrees in ReturnData order.
func (d *Document) Bodies() []*Node {
	data := d.Data()
	if data == nil {
		return nil
	}
	return data.Children
}

// Attach appends form bodies to ReturnData and refreshes the document count.
// It returns a new Document; d is left untouched.
func (d *Document) Attach(bodies ...*Node) *Document {
	out := &Document{Header: d.Header, Root: d.Root.Clone()}
	data := out.Data()
	for _, b := range bodies {
		data.Append(b.Clone())
	}
	data.SetAttr(AttrDocumentCount, strconv.Itoa(len(data.Children)))
	return out
}

// FromNode wraps a parsed tree, recovering header metadata where present.
func FromNode(root *Node) *Document {
	doc := &Document{Root: root}
	doc.Header.SchemaVersion, _ = root.Attr(AttrReturnVersion)
	hdr := root.Child(ElemReturnHeader)
	if hdr == nil {
		return doc
	}
	if v, ok := hdr.Text("ReturnTs"); ok {
		doc.Header.Timestamp, _ = time.Parse(TimestampLayout, v)
	}
	if v, ok := hdr.Text("TaxYr"); ok {
		if y, err := id.ParseTaxYear(v); err == nil {
			doc.Header.TaxYear = y
		}
	}
	if v, ok := hdr.Text("TaxPeriodBeginDt"); ok {
		doc.Header.PeriodBegin, _ = time.Parse(DateLayout, v)
	}
	if v, ok := hdr.Text("TaxPeriodEndDt"); ok {
		doc.Header.PeriodEnd, _ = time.Parse(DateLayout, v)
	}
	doc.Header.ReturnType, _ = hdr.Text("ReturnTypeCd")
	doc.Header.SoftwareID, _ = hdr.Text("SoftwareId")
	if bodies := doc.Bodies(); len(bodies) > 0 {
		doc.Header.FormType = bodies[0].Name
	}
	return doc
}

// ParseDocument parses canonical bytes into a Document.
func ParseDocument(data []byte) (*Document, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return FromNode(root), nil
}
