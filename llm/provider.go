package llm

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentchorus/types"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "LLM_INVALID_REQUEST"      // 参数/格式错误
	ErrUnauthorized        ErrorCode = "LLM_UNAUTHORIZED"         // 未授权或密钥失效
	ErrForbidden           ErrorCode = "LLM_FORBIDDEN"            // 权限或内容策略拒绝
	ErrRateLimited         ErrorCode = "LLM_RATE_LIMITED"         // 上游或本地限流
	ErrModelNotFound       ErrorCode = "LLM_MODEL_NOT_FOUND"      // 模型未拉取/不存在
	ErrModelOverloaded     ErrorCode = "LLM_MODEL_OVERLOADED"     // 模型过载
	ErrUpstreamTimeout     ErrorCode = "LLM_UPSTREAM_TIMEOUT"     // 上游超时
	ErrUpstreamError       ErrorCode = "LLM_UPSTREAM_ERROR"       // 上游 5xx/网络错误
	ErrEmptyBody           ErrorCode = "LLM_EMPTY_BODY"           // 响应体缺少内容字段
	ErrProviderUnavailable ErrorCode = "LLM_PROVIDER_UNAVAILABLE" // Provider 不可用
)

// Error 是协议层错误，与内容校验错误区分开。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// IsCode reports whether err carries an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// Reliability 是 Provider 的可靠性等级。
type Reliability string

const (
	ReliabilityHigh   Reliability = "high"
	ReliabilityMedium Reliability = "medium"
)

// Protocol 标识 Provider 使用的后端协议。
type Protocol string

const (
	ProtocolOllama       Protocol = "ollama"
	ProtocolOpenAICompat Protocol = "openai_compat"
)

// GenerationParams 是按 Provider 配置的数值生成参数。
// 零值字段由各协议后端省略，交给服务端默认值。
type GenerationParams struct {
	Temperature      float64  `json:"temperature,omitempty" yaml:"temperature"`
	TopP             float64  `json:"top_p,omitempty" yaml:"top_p"`
	TopK             int      `json:"top_k,omitempty" yaml:"top_k"`
	MinP             float64  `json:"min_p,omitempty" yaml:"min_p"`
	TypicalP         float64  `json:"typical_p,omitempty" yaml:"typical_p"`
	TfsZ             float64  `json:"tfs_z,omitempty" yaml:"tfs_z"`
	RepeatPenalty    float64  `json:"repeat_penalty,omitempty" yaml:"repeat_penalty"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty" yaml:"presence_penalty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty" yaml:"frequency_penalty"`
	Mirostat         int      `json:"mirostat,omitempty" yaml:"mirostat"`
	MirostatEta      float64  `json:"mirostat_eta,omitempty" yaml:"mirostat_eta"`
	MirostatTau      float64  `json:"mirostat_tau,omitempty" yaml:"mirostat_tau"`
	NumCtx           int      `json:"num_ctx,omitempty" yaml:"num_ctx"`
	NumPredict       int      `json:"num_predict,omitempty" yaml:"num_predict"`
	Seed             int      `json:"seed,omitempty" yaml:"seed"`
	Stop             []string `json:"stop,omitempty" yaml:"stop"`
}

// DefaultGenerationParams 返回本地 Ollama 模型的默认采样参数。
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:   0.8,
		TopP:          0.9,
		TopK:          40,
		MinP:          0,
		TypicalP:      1,
		TfsZ:          1,
		RepeatPenalty: 1.1,
		Mirostat:      2,
		MirostatEta:   0.1,
		MirostatTau:   5.0,
		NumCtx:        4096,
		NumPredict:    400,
		Seed:          -1,
	}
}

// DefaultExpertise 未声明专长的 Provider 使用的描述
const DefaultExpertise = "General development support"

// DefaultColor 未知 Provider 的展示颜色
const DefaultColor = "#666"

// ProviderDescriptor 描述一个可选择的模型后端。
type ProviderDescriptor struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Color       string           `json:"color"`
	Reliability Reliability      `json:"reliability"`
	Protocol    Protocol         `json:"protocol"`
	Model       string           `json:"model"`
	Expertise   string           `json:"expertise,omitempty"`
	Params      GenerationParams `json:"-"`
}

// DisplayName 名称为空时退回 ID
func (d ProviderDescriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// DisplayColor 颜色为空时退回 DefaultColor
func (d ProviderDescriptor) DisplayColor() string {
	if d.Color != "" {
		return d.Color
	}
	return DefaultColor
}

// ExpertiseOrDefault 专长为空时退回 DefaultExpertise
func (d ProviderDescriptor) ExpertiseOrDefault() string {
	if d.Expertise != "" {
		return d.Expertise
	}
	return DefaultExpertise
}

// GenerateRequest 是一次非流式生成请求。
type GenerateRequest struct {
	Provider string
	Model    string
	Messages []types.Message
	Params   GenerationParams
}

// HealthStatus 表示 Backend 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// Backend 定义单一协议的模型后端。
type Backend interface {
	// Generate 发起同步生成请求，返回助手回复文本
	Generate(ctx context.Context, req *GenerateRequest) (string, error)

	// HealthCheck 执行轻量级健康检查
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回后端协议名
	Name() string
}
