// Package amendment files corrections to accepted returns. An amendment is the
// original canonical document with declared changes applied, marked as
// amended, validated and submitted as a new linked submission.
package amendment

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"efile/internal/document"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
)

type Op string

const (
	// OpSet replaces the text of a leaf, or appends a new leaf when the last
	// path segment does not exist yet under an existing parent.
	OpSet Op = "set"
	// OpRemove deletes the element at the path and its subtree.
	OpRemove Op = "remove"
)

// Change is one edit. Path is slash separated and relative to the Return
// root, e.g. "ReturnData/IRS1040/Filer/USAddress/AddressLine1Txt"; a segment
// may carry a 1-based index such as "Transaction[2]".
type Change struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value,omitempty"`
}

// Record links an accepted submission to the submission that amends it.
type Record struct {
	ID           id.AmendmentID
	OriginalID   id.SubmissionID
	SubmissionID id.SubmissionID
	Changes      []Change
	Diff         Entries
	CreatedAt    time.Time
}

// Store persists amendment records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, amendmentID id.AmendmentID) (*Record, error)
	ListByOriginal(ctx context.Context, original id.SubmissionID) ([]*Record, error)
}

// Apply edits a copy of root. The original tree is never modified.
func Apply(root *document.Node, changes []Change) (*document.Node, error) {
	out := root.Clone()
	for i, ch := range changes {
		if err := apply(out, ch); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "change "+strconv.Itoa(i+1))
		}
	}
	if data := out.Child(document.ElemReturnData); data != nil {
		data.SetAttr(document.AttrDocumentCount, strconv.Itoa(len(data.Children)))
	}
	return out, nil
}

func apply(root *document.Node, ch Change) error {
	path := strings.Trim(ch.Path, "/")
	if path == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "path is required")
	}
	parentPath, last := "", path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		parentPath, last = path[:i], path[i+1:]
	}
	parent := root
	if parentPath != "" {
		parent = root.Find(parentPath)
	}
	if parent == nil {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s: parent element not found", path)
	}
	target := parent.Find(last)

	switch ch.Op {
	case OpSet:
		if target == nil {
			if strings.ContainsRune(last, '[') {
				return dErrors.Newf(dErrors.CodeInvalidInput, "%s: element not found", path)
			}
			if parent.Value != "" {
				return dErrors.Newf(dErrors.CodeInvalidInput, "%s: parent is a value, not a section", path)
			}
			parent.Append(document.Leaf(last, ch.Value))
			return nil
		}
		if !target.IsLeaf() {
			return dErrors.Newf(dErrors.CodeInvalidInput, "%s: cannot set the value of a section", path)
		}
		target.Value = ch.Value
		return nil
	case OpRemove:
		if target == nil {
			return dErrors.Newf(dErrors.CodeInvalidInput, "%s: element not found", path)
		}
		parent.Children = slices.DeleteFunc(parent.Children, func(n *document.Node) bool { return n == target })
		return nil
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown operation %q", ch.Op)
	}
}
