// =============================================================================
// AgentChorus OpenAI-Compatible Backend
// =============================================================================
// Non-streaming chat-completions client for any server speaking the OpenAI
// wire format (vLLM, LM Studio, llama.cpp server, hosted gateways).
// =============================================================================

package openaicompat

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

// Config holds the configuration for an OpenAI-compatible backend.
type Config struct {
	// APIKey is sent as a Bearer token when non-empty.
	APIKey string

	// BaseURL is the server root (e.g., "http://localhost:8000").
	BaseURL string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// ModelsEndpoint is the models list endpoint path. Defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders is an optional function to set custom headers on each request.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Backend implements llm.Backend for OpenAI-compatible servers.
type Backend struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible backend with the given config.
func New(cfg Config, logger *zap.Logger) *Backend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.Timeout),
		Logger: logger.With(zap.String("backend", "openai_compat")),
	}
}

// Name returns the protocol name.
func (b *Backend) Name() string { return string(llm.ProtocolOpenAICompat) }

// buildHeaders applies headers to the HTTP request.
func (b *Backend) buildHeaders(req *http.Request) {
	if b.Cfg.BuildHeaders != nil {
		b.Cfg.BuildHeaders(req, b.Cfg.APIKey)
		return
	}
	if b.Cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.Cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// endpoint builds the full URL for a given path.
func (b *Backend) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(b.Cfg.BaseURL, "/"), path)
}

// chatRequest 表示 OpenAI 兼容的聊天完成请求.
type chatRequest struct {
	Model            string                  `json:"model"`
	Messages         []providers.WireMessage `json:"messages"`
	MaxTokens        int                     `json:"max_tokens,omitempty"`
	Temperature      float64                 `json:"temperature,omitempty"`
	TopP             float64                 `json:"top_p,omitempty"`
	PresencePenalty  float64                 `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64                 `json:"frequency_penalty,omitempty"`
	Seed             *int                    `json:"seed,omitempty"`
	Stop             []string                `json:"stop,omitempty"`
}

// chatResponse 表示 OpenAI 兼容的聊天完成响应.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      *struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate performs a non-streaming chat completion.
func (b *Backend) Generate(ctx context.Context, req *llm.GenerateRequest) (string, error) {
	body := chatRequest{
		Model:            req.Model,
		Messages:         providers.ToWireMessages(req.Messages),
		MaxTokens:        req.Params.NumPredict,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		PresencePenalty:  req.Params.PresencePenalty,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		Stop:             req.Params.Stop,
	}
	// 负数 seed 表示随机，不发送
	if req.Params.Seed >= 0 {
		seed := req.Params.Seed
		body.Seed = &seed
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(b.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	b.buildHeaders(httpReq)

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
		return "", providers.MapHTTPError(resp.StatusCode, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg), req.Provider)
	}

	var oaResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return "", providers.DecodeError(err, req.Provider)
	}
	if len(oaResp.Choices) == 0 || oaResp.Choices[0].Message == nil {
		return "", providers.EmptyBodyError(req.Provider)
	}
	return oaResp.Choices[0].Message.Content, nil
}

// HealthCheck verifies the server is reachable.
func (b *Backend) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint(b.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	b.buildHeaders(httpReq)

	resp, err := b.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: err.Error()}, err
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: msg},
			fmt.Errorf("%s health check failed: status=%d msg=%s", b.Name(), resp.StatusCode, msg)
	}

	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}
