package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type stubBackend struct {
	name string
}

func (s *stubBackend) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	return "ok from " + req.Model, nil
}

func (s *stubBackend) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (s *stubBackend) Name() string { return s.name }

func testBackends() map[Protocol]Backend {
	return map[Protocol]Backend{ProtocolOllama: &stubBackend{name: "ollama"}}
}

func testDescriptors() []ProviderDescriptor {
	return []ProviderDescriptor{
		{ID: "mistral:7b", Name: "Mistral 7B", Reliability: ReliabilityHigh, Protocol: ProtocolOllama},
		{ID: "llama3.2:3b", Name: "Llama 3.2 3B", Reliability: ReliabilityMedium, Protocol: ProtocolOllama},
		{ID: "codellama:7b", Name: "CodeLlama 7B", Reliability: ReliabilityHigh, Protocol: ProtocolOllama},
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name  string
		descs []ProviderDescriptor
		want  string
	}{
		{"empty id", []ProviderDescriptor{{Protocol: ProtocolOllama}}, "empty id"},
		{"duplicate", []ProviderDescriptor{
			{ID: "a", Protocol: ProtocolOllama},
			{ID: "a", Protocol: ProtocolOllama},
		}, "duplicate provider id"},
		{"unbound protocol", []ProviderDescriptor{{ID: "a", Protocol: ProtocolOpenAICompat}}, "no backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.descs, testBackends())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegistry_ResolveAndDefaults(t *testing.T) {
	reg, err := NewRegistry([]ProviderDescriptor{{ID: "tiny", Protocol: ProtocolOllama}}, testBackends())
	require.NoError(t, err)

	d, err := reg.Resolve("tiny")
	require.NoError(t, err)
	assert.Equal(t, "tiny", d.Model)
	assert.Equal(t, "tiny", d.Name)
	assert.Equal(t, ReliabilityMedium, d.Reliability)
	assert.Equal(t, DefaultExpertise, d.Expertise)
	assert.Equal(t, DefaultColor, d.Color)

	_, err = reg.Resolve("ghost")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	_, _, err = reg.Backend("ghost")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	b, d, err := reg.Backend("tiny")
	require.NoError(t, err)
	assert.Equal(t, "ollama", b.Name())
	assert.Equal(t, "tiny", d.ID)
}

func TestRegistry_ListIsCopy(t *testing.T) {
	reg, err := NewRegistry(testDescriptors(), testBackends())
	require.NoError(t, err)

	list := reg.List()
	list[0].Name = "mutated"
	d, err := reg.Resolve("mistral:7b")
	require.NoError(t, err)
	assert.Equal(t, "Mistral 7B", d.Name)
	assert.Equal(t, 3, reg.Len())
}

func TestRegistry_Reliable(t *testing.T) {
	reg, err := NewRegistry(testDescriptors(), testBackends())
	require.NoError(t, err)

	var ids []string
	for _, d := range reg.Reliable() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"mistral:7b", "codellama:7b"}, ids)
}

func TestRegistry_ProbeAll(t *testing.T) {
	reg, err := NewRegistry(testDescriptors(), testBackends())
	require.NoError(t, err)

	var calls atomic.Int32
	results := reg.ProbeAll(context.Background(), 2, func(ctx context.Context, d ProviderDescriptor, b Backend) error {
		calls.Add(1)
		if d.ID == "llama3.2:3b" {
			return errors.New("model not pulled")
		}
		return nil
	})

	require.Len(t, results, 3)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "mistral:7b", results[0].ProviderID)
	assert.True(t, results[0].Healthy)
	assert.False(t, results[1].Healthy)
	assert.Equal(t, "model not pulled", results[1].Error)
	assert.True(t, results[2].Healthy)
}

func TestRegistry_ListPreservesDeclarationOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		descs := make([]ProviderDescriptor, n)
		for i := range descs {
			descs[i] = ProviderDescriptor{ID: fmt.Sprintf("p%d", i), Protocol: ProtocolOllama}
		}
		perm := rapid.Permutation(descs).Draw(t, "perm")

		reg, err := NewRegistry(perm, testBackends())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := reg.List()
		if len(got) != len(perm) {
			t.Fatalf("len = %d, want %d", len(got), len(perm))
		}
		for i := range perm {
			if got[i].ID != perm[i].ID {
				t.Fatalf("index %d: got %s want %s", i, got[i].ID, perm[i].ID)
			}
		}
	})
}
