package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindError struct{}

func (kindError) Error() string    { return "kind" }
func (kindError) DomainCode() Code { return CodeValidation }

func TestHasCode(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		assert.True(t, HasCode(New(CodeNotFound, "missing"), CodeNotFound))
		assert.False(t, HasCode(New(CodeNotFound, "missing"), CodeConflict))
	})

	t.Run("through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", Wrap(errors.New("io"), CodeTimeout, "slow"))
		assert.True(t, HasCode(err, CodeTimeout))
		assert.Equal(t, CodeTimeout, CodeOf(err))
	})

	t.Run("typed errors outside the package", func(t *testing.T) {
		err := fmt.Errorf("ctx: %w", kindError{})
		assert.True(t, Is(err, CodeValidation))
	})

	t.Run("joined errors", func(t *testing.T) {
		err := errors.Join(errors.New("a"), New(CodeForbidden, "b"))
		assert.True(t, HasCode(err, CodeForbidden))
	})

	t.Run("nil", func(t *testing.T) {
		assert.False(t, HasCode(nil, CodeInternal))
		assert.NoError(t, Wrap(nil, CodeInternal, "x"))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	})
}
