package providers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/types"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedCode  llm.ErrorCode
		expectedRetry bool
	}{
		{"401 unauthorized", http.StatusUnauthorized, llm.ErrUnauthorized, false},
		{"403 forbidden", http.StatusForbidden, llm.ErrForbidden, false},
		{"404 model not pulled", http.StatusNotFound, llm.ErrModelNotFound, false},
		{"429 rate limited", http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{"400 bad request", http.StatusBadRequest, llm.ErrInvalidRequest, false},
		{"502 bad gateway", http.StatusBadGateway, llm.ErrUpstreamError, true},
		{"503 unavailable", http.StatusServiceUnavailable, llm.ErrUpstreamError, true},
		{"504 gateway timeout", http.StatusGatewayTimeout, llm.ErrUpstreamError, true},
		{"529 overloaded", 529, llm.ErrModelOverloaded, true},
		{"500 internal", http.StatusInternalServerError, llm.ErrUpstreamError, true},
		{"418 teapot", http.StatusTeapot, llm.ErrUpstreamError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError(tt.status, "msg", "ollama")
			assert.Equal(t, tt.expectedCode, err.Code)
			assert.Equal(t, tt.expectedRetry, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "ollama", err.Provider)
			assert.Equal(t, "msg", err.Error())
		})
	}
}

// 任意 5xx 状态都必须可重试
func TestMapHTTPError_ServerErrorsRetryable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(500, 599).Draw(t, "status")
		if !MapHTTPError(status, "x", "p").Retryable {
			t.Fatalf("status %d should be retryable", status)
		}
	})
}

func TestReadErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai style", `{"error":{"message":"bad key","type":"auth"}}`, "bad key (type: auth)"},
		{"openai style no type", `{"error":{"message":"bad key"}}`, "bad key"},
		{"ollama style", `{"error":"model 'mistral:7b' not found, try pulling it first"}`, "model 'mistral:7b' not found, try pulling it first"},
		{"raw text", "upstream exploded", "upstream exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReadErrorMessage(strings.NewReader(tt.body)))
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	cause := errors.New("connection refused")
	te := TransportError(cause, "ollama")
	assert.True(t, te.Retryable)
	assert.ErrorIs(t, te, cause)
	assert.Equal(t, http.StatusBadGateway, te.HTTPStatus)

	eb := EmptyBodyError("ollama")
	assert.True(t, llm.IsCode(eb, llm.ErrEmptyBody))
	assert.True(t, eb.Retryable)

	de := DecodeError(errors.New("unexpected EOF"), "ollama")
	assert.Contains(t, de.Error(), "unexpected EOF")
}

func TestToWireMessages(t *testing.T) {
	msgs := []types.Message{
		types.NewSystemMessage("sys"),
		types.NewAssistantMessage("mistral:7b", "hi"),
	}
	assert.Equal(t, []WireMessage{
		{Role: "system", Content: "sys"},
		{Role: "assistant", Content: "hi"},
	}, ToWireMessages(msgs))
	assert.Empty(t, ToWireMessages(nil))
}
