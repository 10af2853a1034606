package amendment

import (
	"efile/internal/document"
	dErrors "efile/pkg/domain-errors"
)

// ChangeType classifies one diff entry.
type ChangeType string

const (
	// ValueChange is a leaf whose text differs at the same path.
	ValueChange ChangeType = "value_change"
	// StructureChange is a renamed element, a leaf replaced by a section or
	// the reverse, or a child present on one side only.
	StructureChange ChangeType = "structure_change"
)

// Entry is one difference. Original or Amended is empty when the element is
// absent on that side; for renamed elements they carry the element names.
type Entry struct {
	Path     string     `json:"path"`
	Type     ChangeType `json:"type"`
	Original string     `json:"original"`
	Amended  string     `json:"amended"`
}

// Entries is the result of Diff, in document order.
type Entries []Entry

// Count returns the number of entries of type t.
func (d Entries) Count(t ChangeType) int {
	n := 0
	for _, e := range d {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Diff compares two serialized returns. Children are matched by position, so
// an inserted element shows up as changes to every later sibling. Attributes
// are not compared.
func Diff(original, amended []byte) (Entries, error) {
	a, err := document.Parse(original)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "original document is not well-formed")
	}
	b, err := document.Parse(amended)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "amended document is not well-formed")
	}
	var d Entries
	if a.Name != b.Name {
		return append(d, Entry{Path: a.Name, Type: StructureChange, Original: a.Name, Amended: b.Name}), nil
	}
	compareChildren(&d, "", a, b)
	return d, nil
}

func compareNode(d *Entries, path string, a, b *document.Node) {
	switch {
	case a.Name != b.Name:
		*d = append(*d, Entry{Path: path, Type: StructureChange, Original: a.Name, Amended: b.Name})
	case a.IsLeaf() && b.IsLeaf():
		if a.Value != b.Value {
			*d = append(*d, Entry{Path: path, Type: ValueChange, Original: a.Value, Amended: b.Value})
		}
	case a.IsLeaf() != b.IsLeaf():
		*d = append(*d, Entry{Path: path, Type: StructureChange, Original: shape(a), Amended: shape(b)})
	default:
		compareChildren(d, path, a, b)
	}
}

func compareChildren(d *Entries, path string, a, b *document.Node) {
	segA, segB := a.SegmentNames(), b.SegmentNames()
	for i := range max(len(a.Children), len(b.Children)) {
		switch {
		case i >= len(b.Children):
			*d = append(*d, Entry{Path: document.JoinPath(path, segA[i]), Type: StructureChange, Original: a.Children[i].Name})
		case i >= len(a.Children):
			*d = append(*d, Entry{Path: document.JoinPath(path, segB[i]), Type: StructureChange, Amended: b.Children[i].Name})
		default:
			compareNode(d, document.JoinPath(path, segA[i]), a.Children[i], b.Children[i])
		}
	}
}

func shape(n *document.Node) string {
	if n.IsLeaf() {
		return "leaf"
	}
	return "section"
}
