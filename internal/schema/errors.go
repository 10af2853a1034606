package schema

import (
	"fmt"

	dErrors "efile/pkg/domain-errors"
)

// SchemaNotFoundError is returned when no schema is registered for the
// requested form type and version. It is a configuration fault and never
// retried.
type SchemaNotFoundError struct {
	FormType string
	Version  string
}

func (e *SchemaNotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("no schema registered for %s", e.FormType)
	}
	return fmt.Sprintf("no schema registered for %s version %s", e.FormType, e.Version)
}

func (e *SchemaNotFoundError) DomainCode() dErrors.Code { return dErrors.CodeConfiguration }
