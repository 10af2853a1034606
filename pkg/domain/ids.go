// Package domain holds the typed primitives shared by every bounded context.
// IDs are distinct named UUID types so a SubmissionID can never be passed where
// an AmendmentID is expected.
package domain

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	dErrors "efile/pkg/domain-errors"
)

type (
	SubmissionID uuid.UUID
	AmendmentID  uuid.UUID
	EventID      uuid.UUID
)

func NewSubmissionID() SubmissionID { return SubmissionID(uuid.New()) }
func NewAmendmentID() AmendmentID   { return AmendmentID(uuid.New()) }
func NewEventID() EventID           { return EventID(uuid.New()) }

func (id SubmissionID) String() string { return uuid.UUID(id).String() }
func (id AmendmentID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string      { return uuid.UUID(id).String() }

func (id SubmissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AmendmentID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// ParseSubmissionID parses a trust-boundary string into a SubmissionID.
func ParseSubmissionID(s string) (SubmissionID, error) {
	u, err := parseUUID(s, "submission ID")
	return SubmissionID(u), err
}

// ParseAmendmentID parses a trust-boundary string into an AmendmentID.
func ParseAmendmentID(s string) (AmendmentID, error) {
	u, err := parseUUID(s, "amendment ID")
	return AmendmentID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// TaxYear is a filing year accepted by the e-file system.
type TaxYear int

const (
	MinTaxYear TaxYear = 2019
	MaxTaxYear TaxYear = 2099
)

// ParseTaxYear validates a four-digit filing year.
func ParseTaxYear(s string) (TaxYear, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "tax year must be numeric")
	}
	return NewTaxYear(n)
}

// NewTaxYear range-checks y.
func NewTaxYear(y int) (TaxYear, error) {
	ty := TaxYear(y)
	if ty < MinTaxYear || ty > MaxTaxYear {
		return 0, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("tax year %d outside supported range", y))
	}
	return ty, nil
}

func (y TaxYear) String() string { return strconv.Itoa(int(y)) }
