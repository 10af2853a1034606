// Package sentinel names the storage facts that stores report and services
// translate into domain error codes.
package sentinel

import "errors"

var (
	// ErrNotFound: no submission, amendment or schema under that key.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a duplicate key, or a status update that lost a
	// compare-and-set race.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: the record's status does not allow the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing store cannot be reached right now.
	ErrUnavailable = errors.New("unavailable")
)
