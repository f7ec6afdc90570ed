// =============================================================================
// AgentChorus Ollama Backend
// =============================================================================
// Non-streaming /api/chat client for a local or remote Ollama server.
// Every provider whose protocol is "ollama" shares one Backend; the model
// and generation options travel with each request.
// =============================================================================

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentchorus/internal/tlsutil"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/llm/providers"
	"go.uber.org/zap"
)

// Config holds the configuration for the Ollama backend.
type Config struct {
	// BaseURL is the Ollama server root (e.g., "http://localhost:11434").
	BaseURL string

	// Timeout bounds one HTTP round trip. Defaults to 120s since cold model
	// loads on a local server routinely take tens of seconds.
	Timeout time.Duration

	// KeepAlive is forwarded as keep_alive when non-empty (e.g., "5m").
	KeepAlive string
}

// Backend implements llm.Backend over the Ollama chat API.
type Backend struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates an Ollama backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.Timeout),
		Logger: logger.With(zap.String("backend", "ollama")),
	}
}

// Name returns the protocol name.
func (b *Backend) Name() string { return string(llm.ProtocolOllama) }

func (b *Backend) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(b.Cfg.BaseURL, "/"), path)
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model     string                  `json:"model"`
	Messages  []providers.WireMessage `json:"messages"`
	Stream    bool                    `json:"stream"`
	Options   *options                `json:"options,omitempty"`
	KeepAlive string                  `json:"keep_alive,omitempty"`
}

// options mirrors Ollama's sampling options. Pointer-free with omitempty so
// unset params fall back to the server defaults.
type options struct {
	Temperature      float64  `json:"temperature,omitempty"`
	TopP             float64  `json:"top_p,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	MinP             float64  `json:"min_p,omitempty"`
	TypicalP         float64  `json:"typical_p,omitempty"`
	TfsZ             float64  `json:"tfs_z,omitempty"`
	RepeatPenalty    float64  `json:"repeat_penalty,omitempty"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	Mirostat         int      `json:"mirostat,omitempty"`
	MirostatEta      float64  `json:"mirostat_eta,omitempty"`
	MirostatTau      float64  `json:"mirostat_tau,omitempty"`
	NumCtx           int      `json:"num_ctx,omitempty"`
	NumPredict       int      `json:"num_predict,omitempty"`
	Seed             int      `json:"seed,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

func toOptions(p llm.GenerationParams) *options {
	return &options{
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		TopK:             p.TopK,
		MinP:             p.MinP,
		TypicalP:         p.TypicalP,
		TfsZ:             p.TfsZ,
		RepeatPenalty:    p.RepeatPenalty,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
		Mirostat:         p.Mirostat,
		MirostatEta:      p.MirostatEta,
		MirostatTau:      p.MirostatTau,
		NumCtx:           p.NumCtx,
		NumPredict:       p.NumPredict,
		Seed:             p.Seed,
		Stop:             p.Stop,
	}
}

// chatResponse is the subset of the /api/chat response we consume.
type chatResponse struct {
	Model   string `json:"model"`
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Generate performs one non-streaming chat call.
// A 2xx body without message.content yields an llm.ErrEmptyBody error; an
// empty content string is returned as-is for the invoker to validate.
func (b *Backend) Generate(ctx context.Context, req *llm.GenerateRequest) (string, error) {
	body := chatRequest{
		Model:     req.Model,
		Messages:  providers.ToWireMessages(req.Messages),
		Stream:    false,
		Options:   toOptions(req.Params),
		KeepAlive: b.Cfg.KeepAlive,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint("/api/chat"), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", providers.TransportError(err, req.Provider)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		b.Logger.Debug("ollama returned error status",
			zap.String("model", req.Model),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return "", providers.MapHTTPError(resp.StatusCode, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg), req.Provider)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", providers.DecodeError(err, req.Provider)
	}
	if out.Message == nil {
		return "", providers.EmptyBodyError(req.Provider)
	}
	return out.Message.Content, nil
}

// tagsResponse is the /api/tags body.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of the models pulled on the server.
func (b *Backend) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint("/api/tags"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, b.Name())
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, b.Name())
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, providers.DecodeError(err, b.Name())
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HealthCheck verifies the server is reachable.
func (b *Backend) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	models, err := b.ListModels(ctx)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: err.Error()}, err
	}
	return &llm.HealthStatus{
		Healthy: true,
		Latency: latency,
		Message: fmt.Sprintf("%d models available", len(models)),
	}, nil
}
