package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_ExtractsKindFromWrappedError(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := Wrap(KindTransient, "dial imap host", base)
	assert.Equal(t, KindTransient, KindOf(wrapped))
}

func TestKindOf_DefaultsToTransientForForeignErrors(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(errors.New("some other package's error")))
}

func TestKindOf_UnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(KindNotFound, "not found")
	wrapped := fmt.Errorf("looking up account: %w", base)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestError_MessageIncludesUnderlyingCause(t *testing.T) {
	base := errors.New("EOF")
	err := Wrap(KindTransient, "read message", base)
	assert.Equal(t, "read message: EOF", err.Error())
}

func TestError_MessageWithoutCauseOmitsColon(t *testing.T) {
	err := New(KindConfig, "missing account_secret_key")
	assert.Equal(t, "missing account_secret_key", err.Error())
}

func TestErrNotFound_IsKindNotFound(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(ErrNotFound))
}

func TestUnwrap_SupportsErrorsIs(t *testing.T) {
	sentinel := errors.New("sql: no rows in result set")
	wrapped := Wrap(KindStore, "get account", sentinel)
	assert.ErrorIs(t, wrapped, sentinel)
}
