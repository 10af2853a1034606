package models

import (
	"fmt"
	"strings"
	"time"

	"efile/internal/document"
)

// AckStatus is the status carried by an acknowledgment.
type AckStatus string

const (
	AckAccepted    AckStatus = "ACCEPTED"
	AckRejected    AckStatus = "REJECTED"
	AckInProcess   AckStatus = "IN_PROCESS"
	AckStatusError AckStatus = "ERROR"
)

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Acknowledgment is MeF's final or interim verdict on a submission.
type Acknowledgment struct {
	Status       AckStatus
	Timestamp    time.Time
	SubmissionID string
	Errors       []AckError
}

const ElemAcknowledgment = "Acknowledgment"

// ParseAcknowledgment reads acknowledgment XML. Any structural problem is
// reported as an error; the caller decides how to classify it.
func ParseAcknowledgment(data []byte) (Acknowledgment, error) {
	root, err := document.Parse(data)
	if err != nil {
		return Acknowledgment{}, err
	}
	if root.Name != ElemAcknowledgment {
		return Acknowledgment{}, fmt.Errorf("unexpected root element %q", root.Name)
	}
	var ack Acknowledgment
	status, ok := root.Text("Status")
	if !ok {
		return Acknowledgment{}, fmt.Errorf("missing Status")
	}
	ack.Status = AckStatus(strings.TrimSpace(status))
	switch ack.Status {
	case AckAccepted, AckRejected, AckInProcess, AckStatusError:
	default:
		return Acknowledgment{}, fmt.Errorf("unknown acknowledgment status %q", status)
	}
	if ts, ok := root.Text("Timestamp"); ok {
		t, err := time.Parse(document.TimestampLayout, strings.TrimSpace(ts))
		if err != nil {
			return Acknowledgment{}, fmt.Errorf("invalid Timestamp %q", ts)
		}
		ack.Timestamp = t
	}
	ack.SubmissionID, _ = root.Text("SubmissionId")
	// Error entries may be wrapped in an Errors element or sit directly under
	// the root.
	entries := root.ChildrenNamed("Error")
	if errs := root.Child("Errors"); errs != nil {
		entries = append(entries, errs.ChildrenNamed("Error")...)
	}
	for _, e := range entries {
		code, _ := e.Text("Code")
		msg, _ := e.Text("Message")
		ack.Errors = append(ack.Errors, AckError{
			Code:    strings.TrimSpace(code),
			Message: strings.TrimSpace(msg),
		})
	}
	return ack, nil
}

// Marshal renders the acknowledgment in its wire form.
func (a Acknowledgment) Marshal() []byte {
	root := document.NewNode(ElemAcknowledgment)
	root.Append(document.Leaf("Status", string(a.Status)))
	if !a.Timestamp.IsZero() {
		root.Append(document.Leaf("Timestamp", a.Timestamp.UTC().Format(document.TimestampLayout)))
	}
	if a.SubmissionID != "" {
		root.Append(document.Leaf("SubmissionId", a.SubmissionID))
	}
	if len(a.Errors) > 0 {
		errs := document.NewNode("Errors")
		for _, e := range a.Errors {
			errs.Append(document.NewNode("Error").Append(
				document.Leaf("Code", e.Code),
				document.Leaf("Message", e.Message),
			))
		}
		root.Append(errs)
	}
	return document.Encode(root)
}

// Summary joins error codes for history details.
func (a Acknowledgment) Summary() string {
	if len(a.Errors) == 0 {
		return string(a.Status)
	}
	parts := make([]string, 0, len(a.Errors))
	for _, e := range a.Errors {
		parts = append(parts, e.Code+": "+e.Message)
	}
	return string(a.Status) + " (" + strings.Join(parts, "; ") + ")"
}
