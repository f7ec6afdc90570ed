package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	b.Client = srv.Client()
	return b
}

func testRequest() *llm.GenerateRequest {
	return &llm.GenerateRequest{
		Provider: "mistral:7b",
		Model:    "mistral:7b",
		Messages: []types.Message{
			types.NewSystemMessage("be helpful"),
			types.NewUserMessage("hello"),
		},
		Params: llm.DefaultGenerationParams(),
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{}, nil)
	assert.Equal(t, "http://localhost:11434", b.Cfg.BaseURL)
	assert.Equal(t, 120*time.Second, b.Cfg.Timeout)
	assert.Equal(t, "ollama", b.Name())
	assert.NotNil(t, b.Client)
	assert.NotNil(t, b.Logger)
}

func TestGenerate_Success(t *testing.T) {
	var got map[string]any
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"mistral:7b","message":{"role":"assistant","content":"Hello there, friend."},"done":true}`))
	})

	text, err := b.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Hello there, friend.", text)

	assert.Equal(t, "mistral:7b", got["model"])
	assert.Equal(t, false, got["stream"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	opts := got["options"].(map[string]any)
	assert.Equal(t, 0.8, opts["temperature"])
	assert.Equal(t, 0.9, opts["top_p"])
	assert.Equal(t, float64(40), opts["top_k"])
	assert.Equal(t, float64(4096), opts["num_ctx"])
	assert.Equal(t, float64(400), opts["num_predict"])
	assert.Equal(t, float64(-1), opts["seed"])
	assert.Equal(t, float64(2), opts["mirostat"])
	_, hasStop := opts["stop"]
	assert.False(t, hasStop)
}

func TestGenerate_HTTPErrorMapped(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"mistral:7b\" not found, try pulling it first"}`))
	})

	_, err := b.Generate(context.Background(), testRequest())
	require.Error(t, err)

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrModelNotFound, lerr.Code)
	assert.Equal(t, http.StatusNotFound, lerr.HTTPStatus)
	assert.Equal(t, "mistral:7b", lerr.Provider)
	assert.Contains(t, lerr.Message, "HTTP 404")
	assert.Contains(t, lerr.Message, "try pulling it first")
}

func TestGenerate_MissingMessageIsEmptyBody(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"mistral:7b","done":true}`))
	})

	_, err := b.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, llm.IsCode(err, llm.ErrEmptyBody))
}

func TestGenerate_EmptyContentPassesThrough(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}`))
	})

	text, err := b.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGenerate_MalformedJSON(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := b.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, llm.IsCode(err, llm.ErrUpstreamError))
}

func TestGenerate_ContextCancelled(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Generate(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealthCheck(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:7b"},{"name":"llama3.2:1b"}]}`))
	})

	status, err := b.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, "2 models available", status.Message)

	models, err := b.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mistral:7b", "llama3.2:1b"}, models)
}

func TestHealthCheck_Unreachable(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	status, err := b.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}
