package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := ErrDecode.WithCause(fmt.Errorf("unexpected EOF"))

	assert.True(t, stderrors.Is(err, ErrDecode))
	assert.False(t, stderrors.Is(err, ErrHandler))

	wrapped := fmt.Errorf("consume: %w", ErrNotConnected.WithMessage("publish on %s", "orders"))
	assert.True(t, stderrors.Is(wrapped, ErrNotConnected))
}

func TestError_Fatality(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"plain error", fmt.Errorf("boom"), false},
		{"decode", ErrDecode.WithCause(fmt.Errorf("x")), true},
		{"malformed key", ErrMalformedKey, true},
		{"handler", ErrHandler.WithCause(fmt.Errorf("db down")), false},
		{"validation", ErrValidation, true},
		{"retryable override", ErrValidation.AsRetryable(), false},
		{"wrapped fatal", fmt.Errorf("ctx: %w", ErrAmbiguousHandler), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrHandler.WithDetail("queue", "inventory.queue")
	assert.Empty(t, ErrHandler.Details)
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("nil map write")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, stderrors.Is(err, ErrHandler))
	assert.Contains(t, err.Error(), "nil map write")
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrNotFound.WithMessage("order %s not found", "ORD-1"))
	assert.Equal(t, "NOT_FOUND", resp["error_code"])
	assert.Equal(t, "order ORD-1 not found", resp["error"])

	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(fmt.Errorf("plain")))
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(ErrAmbiguousHandler))
}
