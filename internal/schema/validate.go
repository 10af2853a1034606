package schema

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"efile/internal/document"
	"efile/internal/forms"
)

// Validate checks a serialized return against the schema of formType. An empty
// version selects the latest registered version; an explicit older version
// validates in backward-compatibility mode against the historical schema.
//
// Structural problems are reported in the outcome. The error is non-nil only
// when no schema exists for the request.
func (r *Registry) Validate(ctx context.Context, data []byte, formType forms.FormType, version string) (document.ValidationOutcome, error) {
	def, err := r.Definition(ctx, string(formType), version)
	if err != nil {
		return document.ValidationOutcome{}, err
	}
	envelope, err := r.envelope(ctx, def.Version)
	if err != nil {
		return document.ValidationOutcome{}, err
	}

	out := document.Valid()
	root, err := document.Parse(data)
	if err != nil {
		var syn *document.SyntaxError
		if errors.As(err, &syn) {
			out.AddStructural(document.StructuralError{Line: syn.Line, Column: syn.Column, Message: syn.Message})
		} else {
			out.AddStructural(document.StructuralError{Message: err.Error()})
		}
		return out, nil
	}

	v := &validator{ctx: ctx, registry: r, out: &out}
	v.envelope(root, envelope)
	if data := root.Child(document.ElemReturnData); data != nil {
		v.returnData(data, document.ElemReturn+"/"+document.ElemReturnData, def)
	}
	return out, nil
}

// ValidateDocument validates an in-memory document by its canonical bytes.
func (r *Registry) ValidateDocument(ctx context.Context, doc *document.Document, formType forms.FormType, version string) (document.ValidationOutcome, error) {
	return r.Validate(ctx, doc.Bytes(), formType, version)
}

func (r *Registry) envelope(ctx context.Context, version string) (*Definition, error) {
	def, err := r.Definition(ctx, envelopeType, version)
	var nf *SchemaNotFoundError
	if errors.As(err, &nf) {
		return r.Definition(ctx, envelopeType, "")
	}
	return def, err
}

type validator struct {
	ctx      context.Context
	registry *Registry
	out      *document.ValidationOutcome
}

func (v *validator) fail(n *document.Node, path, format string, args ...any) {
	v.out.AddStructural(document.StructuralError{
		Line:    n.Line,
		Column:  n.Column,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) envelope(root *document.Node, def *Definition) {
	if root.Name != def.Root.Name {
		v.fail(root, root.Name, "root element must be %s", def.Root.Name)
		return
	}
	if ns, _ := root.Attr(document.AttrNamespace); ns != document.Namespace {
		v.fail(root, root.Name, "namespace must be %s", document.Namespace)
	}
	if rv, ok := root.Attr(document.AttrReturnVersion); !ok || rv == "" {
		v.fail(root, root.Name, "missing %s attribute", document.AttrReturnVersion)
	}
	v.element(root, root.Name, def.Root)
}

// returnData validates each attached form: the subject against the requested
// definition, every other form against its own latest schema.
func (v *validator) returnData(data *document.Node, path string, subject *Definition) {
	if cnt, ok := data.Attr(document.AttrDocumentCount); ok && cnt != strconv.Itoa(len(data.Children)) {
		v.fail(data, path, "documentCnt is %s but ReturnData holds %d forms", cnt, len(data.Children))
	}

	found := false
	for i, seg := range data.SegmentNames() {
		child := data.Children[i]
		childPath := path + "/" + seg
		if child.Name == subject.FormType {
			found = true
			v.element(child, childPath, subject.Root)
			continue
		}
		def, err := v.registry.Definition(v.ctx, child.Name, "")
		if err != nil {
			v.fail(child, childPath, "unexpected form %s", child.Name)
			continue
		}
		v.element(child, childPath, def.Root)
	}
	if !found {
		v.fail(data, path, "missing required element %s", subject.FormType)
	}
}

func (v *validator) element(n *document.Node, path string, e *Element) {
	if !e.IsContainer() {
		if len(n.Children) > 0 {
			v.fail(n, path, "%s must not contain child elements", e.Name)
			return
		}
		if msg := checkValue(e, n.Value); msg != "" {
			v.fail(n, path, "%s %s", e.Name, msg)
		}
		return
	}
	if n.Value != "" {
		v.fail(n, path, "%s must not contain text", e.Name)
	}
	if e.Open {
		return
	}

	seen := make([]bool, len(e.Children))
	cursor := 0
	segs := n.SegmentNames()
	for i, child := range n.Children {
		childPath := path + "/" + segs[i]
		j := e.childIndex(child.Name, cursor)
		switch {
		case j < 0 && e.childIndex(child.Name, 0) >= 0:
			v.fail(child, childPath, "element %s out of order", child.Name)
			continue
		case j < 0:
			v.fail(child, childPath, "unexpected element %s", child.Name)
			continue
		case j == cursor && seen[j] && !e.Children[j].Repeated:
			v.fail(child, childPath, "duplicate element %s", child.Name)
			continue
		}
		v.missingBetween(n, path, e, seen, cursor, j)
		cursor = j
		seen[j] = true
		v.element(child, childPath, e.Children[j])
	}
	v.missingBetween(n, path, e, seen, cursor, len(e.Children))
}

func (v *validator) missingBetween(n *document.Node, path string, e *Element, seen []bool, from, to int) {
	for k := from; k < to; k++ {
		if !seen[k] && e.Children[k].Required {
			v.fail(n, path+"/"+e.Children[k].Name, "missing required element %s", e.Children[k].Name)
		}
	}
}
