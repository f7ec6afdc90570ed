package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/agentchorus/api"
	"github.com/BaSui01/agentchorus/conversation"
	"github.com/BaSui01/agentchorus/conversation/directive"
	"github.com/BaSui01/agentchorus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRounds struct {
	history   []types.Message
	providers []string
	result    *conversation.RoundResult
	err       error
}

func (f *fakeRounds) RunRound(ctx context.Context, history []types.Message, providers []string) (*conversation.RoundResult, error) {
	f.history = history
	f.providers = providers
	return f.result, f.err
}

func postJSON(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestChatHandler_HandleChat(t *testing.T) {
	rounds := &fakeRounds{result: &conversation.RoundResult{
		Directive: directive.Directive{Kind: directive.KindNormal},
		Responses: []conversation.RoundResponse{
			{Provider: "mistral:7b", ProviderName: "Mistral 7B", Content: "hi", Color: "#7c3aed", Role: types.RoleAssistant},
			{Provider: "codellama:7b", ProviderName: "CodeLlama 7B", Content: "Error: Could not get response from codellama:7b - timeout",
				Color: conversation.ErrorColor, Role: types.RoleAssistant, Error: "timeout"},
		},
	}}
	h := NewChatHandler(rounds, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleChat(w, postJSON("/api/chat",
		`{"messages":[{"role":"user","content":"hello"}],"selectedProviders":["mistral:7b","codellama:7b"]}`))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Responses, 2)
	assert.Equal(t, "hi", resp.Responses[0].Content)
	assert.True(t, resp.Responses[1].Failed())

	require.Len(t, rounds.history, 1)
	assert.Equal(t, types.RoleUser, rounds.history[0].Role)
	assert.Equal(t, []string{"mistral:7b", "codellama:7b"}, rounds.providers)
}

func TestChatHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		req    *http.Request
		err    error
		status int
	}{
		{
			name:   "wrong content type",
			req:    httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`)),
			status: http.StatusUnsupportedMediaType,
		},
		{
			name:   "malformed body",
			req:    postJSON("/api/chat", `{"messages":`),
			status: http.StatusBadRequest,
		},
		{
			name:   "validation",
			req:    postJSON("/api/chat", `{"messages":[]}`),
			err:    &conversation.ValidationError{Field: "messages", Reason: "must not be empty"},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChatHandler(&fakeRounds{err: tt.err}, nil)
			w := httptest.NewRecorder()
			h.HandleChat(w, tt.req)

			assert.Equal(t, tt.status, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
		})
	}
}
