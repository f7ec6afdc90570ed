package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/agentchorus/api"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubBackend struct {
	healthy bool
	message string
	err     error
}

func (b stubBackend) Generate(ctx context.Context, req *llm.GenerateRequest) (string, error) {
	return "ok", nil
}

func (b stubBackend) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &llm.HealthStatus{Healthy: b.healthy, Message: b.message}, nil
}

func (b stubBackend) Name() string { return "stub" }

var catalog = []llm.ProviderDescriptor{
	{ID: "mistral:7b", Name: "Mistral 7B", Color: "#7c3aed", Reliability: llm.ReliabilityHigh, Protocol: llm.ProtocolOllama},
	{ID: "codellama:7b", Name: "CodeLlama 7B", Color: "#059669", Reliability: llm.ReliabilityHigh, Protocol: llm.ProtocolOllama},
	{ID: "llama3.2:3b", Name: "Llama 3.2 3B", Color: "#3b82f6", Reliability: llm.ReliabilityMedium, Protocol: llm.ProtocolOllama},
}

func newProviderHandler(t *testing.T, backend llm.Backend, probe llm.ProbeFunc) *ProviderHandler {
	t.Helper()
	reg, err := llm.NewRegistry(catalog, map[llm.Protocol]llm.Backend{llm.ProtocolOllama: backend})
	require.NoError(t, err)
	return NewProviderHandler(reg, probe, zap.NewNop())
}

func TestProviderHandler_List(t *testing.T) {
	h := newProviderHandler(t, stubBackend{healthy: true}, nil)

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/providers", nil))

	var resp api.ProvidersResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Providers, 3)
	assert.Equal(t, "mistral:7b", resp.Providers[0].ID)
	assert.Equal(t, "llama3.2:3b", resp.Providers[2].ID)
}

func TestProviderHandler_Working(t *testing.T) {
	h := newProviderHandler(t, stubBackend{healthy: true}, nil)

	w := httptest.NewRecorder()
	h.HandleWorking(w, httptest.NewRequest(http.MethodGet, "/api/providers/working", nil))

	var resp api.ProvidersResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Providers, 2)
	for _, p := range resp.Providers {
		assert.Equal(t, llm.ReliabilityHigh, p.Reliability)
	}
}

func TestProviderHandler_Health(t *testing.T) {
	probe := func(ctx context.Context, d llm.ProviderDescriptor, b llm.Backend) error {
		if d.ID == "codellama:7b" {
			return errors.New("model not pulled")
		}
		return nil
	}
	h := newProviderHandler(t, stubBackend{healthy: true}, probe)

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/api/providers/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ProviderHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Healthy)
	require.Len(t, resp.Providers, 3)
	assert.False(t, resp.Providers[1].Healthy)
	assert.Equal(t, "model not pulled", resp.Providers[1].Error)
}

func TestHealthCheckProbe(t *testing.T) {
	d := catalog[0]
	tests := []struct {
		name    string
		backend stubBackend
		wantErr string
	}{
		{name: "healthy", backend: stubBackend{healthy: true}},
		{name: "unhealthy with message", backend: stubBackend{message: "ollama not running"}, wantErr: "mistral:7b unhealthy: ollama not running"},
		{name: "unhealthy", backend: stubBackend{}, wantErr: "mistral:7b unhealthy"},
		{name: "transport error", backend: stubBackend{err: errors.New("dial tcp: refused")}, wantErr: "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HealthCheckProbe(context.Background(), d, tt.backend)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
