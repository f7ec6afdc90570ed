package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("mistral:7b")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[UPSTREAM_ERROR] upstream failed: root", err.Error())
	assert.Equal(t, "mistral:7b", err.Provider)
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewProviderNotFoundError("ghost")
	wrapped := fmt.Errorf("resolve: %w", inner)

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 404, e.HTTPStatus)
	assert.True(t, IsErrorCode(wrapped, ErrProviderNotFound))
	assert.False(t, IsErrorCode(wrapped, ErrBackendFailed))
	assert.False(t, IsRetryable(wrapped))

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestNewInvalidRequestError(t *testing.T) {
	t.Parallel()

	err := NewInvalidRequestError("messages are required")
	assert.Equal(t, ErrInvalidRequest, err.Code)
	assert.Equal(t, 400, err.HTTPStatus)
	assert.Equal(t, "[INVALID_REQUEST] messages are required", err.Error())
}
