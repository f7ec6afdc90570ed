package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/BaSui01/agentchorus/conversation"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/llm/invoker"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"go.uber.org/zap"
)

// MaxBodyBytes JSON 请求体上限
const MaxBodyBytes = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 错误与通用成功响应的信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Provider  string `json:"provider,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败只能放弃
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功信封
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误信封。5xx 记为 Error，4xx 记为 Warn。
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = StatusForCode(err.Code)
	}

	resp := Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Provider:  err.Provider,
			Retryable: err.Retryable,
		},
		Timestamp: time.Now(),
	}
	if r != nil {
		if id, ok := types.RequestID(r.Context()); ok {
			resp.RequestID = id
		}
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Error(err.Cause),
		}
		if resp.RequestID != "" {
			fields = append(fields, zap.String("request_id", resp.RequestID))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Warn("API error", fields...)
		}
	}

	WriteJSON(w, status, resp)
}

// WriteErr 将任意错误归类后写出
func WriteErr(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	WriteError(w, r, ToTypesError(err), logger)
}

// ToTypesError 将领域错误映射为 types.Error
func ToTypesError(err error) *types.Error {
	var (
		te    *types.Error
		verr  *conversation.ValidationError
		berr  *invoker.BackendError
		lerr  *llm.Error
		mberr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &te):
		return te
	case errors.As(err, &verr):
		return verr.TypesError()
	case errors.As(err, &berr):
		return berr.TypesError()
	case errors.Is(err, llm.ErrProviderNotFound):
		return types.NewError(types.ErrProviderNotFound, err.Error()).WithCause(err)
	case errors.As(err, &lerr):
		return types.NewError(types.ErrBackendFailed, lerr.Error()).WithCause(err).WithProvider(lerr.Provider)
	case errors.As(err, &mberr):
		return types.NewError(types.ErrInvalidRequest, "request body too large").
			WithCause(err).WithHTTPStatus(http.StatusRequestEntityTooLarge)
	case errors.Is(err, store.ErrInvalidInput):
		return types.NewInvalidRequestError(err.Error())
	case errors.Is(err, store.ErrNotFound):
		return types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err).WithHTTPStatus(http.StatusNotFound)
	case errors.Is(err, store.ErrStoreClosed):
		return types.NewError(types.ErrServiceUnavailable, "store unavailable").WithCause(err)
	default:
		return types.NewError(types.ErrInternalError, "Something went wrong").WithCause(err)
	}
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

// StatusForCode 错误码对应的 HTTP 状态
func StatusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrProviderNotFound, types.ErrModelNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrBackendFailed, types.ErrUpstreamError, types.ErrEmptyResponse:
		return http.StatusBadGateway
	case types.ErrModelOverloaded, types.ErrServiceUnavailable, types.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（限制大小，拒绝未知字段）。失败时已写出错误响应。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewInvalidRequestError("request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var mberr *http.MaxBytesError
		if errors.As(err, &mberr) {
			WriteErr(w, r, err, logger)
			return err
		}
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, r, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType 要求 application/json（允许带参数）
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType), logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 记录状态码与写出字节数，并透传 Flusher 与 Hijacker。
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Bytes      int64
}

// NewResponseWriter 包装 w
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 只记录第一次的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Bytes += int64(n)
	return n, err
}

// Flush 实现 http.Flusher
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack 实现 http.Hijacker，WebSocket 升级需要
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	rw.Written = true
	return h.Hijack()
}

// Unwrap 供 http.ResponseController 与 websocket.Accept 取得底层连接
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
