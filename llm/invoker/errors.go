package invoker

import (
	"errors"
	"fmt"

	"github.com/BaSui01/agentchorus/types"
)

// ErrValidation 是所有内容校验失败的根错误，与协议层 *llm.Error 区分。
var ErrValidation = errors.New("response rejected")

var (
	ErrEmptyResponse       = fmt.Errorf("%w: empty response from model", ErrValidation)
	ErrResponseTooShort    = fmt.Errorf("%w: response too short after processing", ErrValidation)
	ErrPlaceholderResponse = fmt.Errorf("%w: model returned placeholder response", ErrValidation)
	ErrRefusal             = fmt.Errorf("%w: over-restrictive refusal", ErrValidation)
)

// BackendError 表示所有尝试耗尽后仍未得到可用回复。
type BackendError struct {
	ProviderID string
	Attempts   int
	LastCause  error
	// Hint 非空时替代默认错误文本（中等可靠性 Provider 的降级建议）
	Hint string
}

func (e *BackendError) Error() string {
	if e.Hint != "" {
		return e.Hint
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", e.ProviderID, e.Attempts, e.LastCause)
}

func (e *BackendError) Unwrap() error { return e.LastCause }

// TypesError 转换为 API 层使用的结构化错误。
func (e *BackendError) TypesError() *types.Error {
	return types.NewError(types.ErrBackendFailed, e.Error()).
		WithCause(e.LastCause).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider(e.ProviderID)
}
