package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentchorus/api"
	"github.com/BaSui01/agentchorus/conversation"
	"github.com/BaSui01/agentchorus/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 🔁 流式讨论 Handler（SSE 与 WebSocket）
// =============================================================================

// DefaultKeepAlive SSE 注释心跳与 WebSocket ping 的间隔
const DefaultKeepAlive = 15 * time.Second

// Streamer 创建并驱动流式会话。NewSession 的校验错误在写出任何流数据之前返回。
type Streamer interface {
	NewSession(ctx context.Context, cfg conversation.SessionConfig) (*conversation.Session, error)
	Run(ctx context.Context, sess *conversation.Session, sink conversation.EventSink) (conversation.StopReason, error)
}

// StreamHandler 流式讨论处理器
type StreamHandler struct {
	streamer       Streamer
	keepAlive      time.Duration
	originPatterns []string
	logger         *zap.Logger
}

// StreamOption 配置 StreamHandler
type StreamOption func(*StreamHandler)

// WithKeepAlive 设置心跳间隔，<= 0 时关闭心跳
func WithKeepAlive(d time.Duration) StreamOption {
	return func(h *StreamHandler) { h.keepAlive = d }
}

// WithOriginPatterns 设置 WebSocket 允许的跨域来源（host 通配）
func WithOriginPatterns(patterns ...string) StreamOption {
	return func(h *StreamHandler) { h.originPatterns = patterns }
}

// NewStreamHandler 创建流式讨论处理器
func NewStreamHandler(streamer Streamer, logger *zap.Logger, opts ...StreamOption) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &StreamHandler{
		streamer:  streamer,
		keepAlive: DefaultKeepAlive,
		logger:    logger.With(zap.String("handler", "stream")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newSession 解析查询参数并创建会话；会话 ID 优先使用请求 ID
func (h *StreamHandler) newSession(r *http.Request) (*conversation.Session, error) {
	params := api.ParseStreamParams(r.URL.Query().Get)
	id, ok := types.RequestID(r.Context())
	if !ok {
		id = uuid.NewString()
	}
	return h.streamer.NewSession(r.Context(), params.SessionConfig(id))
}

// -----------------------------------------------------------------------------
// SSE
// -----------------------------------------------------------------------------

// sseSink 以 "data: <json>\n\n" 写出事件，与心跳共用一把锁
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Emit(ctx context.Context, ev conversation.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.write("data: " + string(payload) + "\n\n")
}

func (s *sseSink) comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *sseSink) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleSSE GET /api/infinite-chat?selectedProviders=a,b&topic=...&contextual=true
func (h *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}
	sess, err := h.newSession(r)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	// 会话可能远长于服务器的 WriteTimeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("clear write deadline failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sink := &sseSink{w: w, flusher: flusher}

	var wg sync.WaitGroup
	if h.keepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(h.keepAlive)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := sink.comment("keep-alive"); err != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	reason, err := h.streamer.Run(ctx, sess, sink)
	cancel()
	wg.Wait()
	h.logSessionEnd("sse", sess, reason, err)
}

// -----------------------------------------------------------------------------
// WebSocket
// -----------------------------------------------------------------------------

// wsSink 以 JSON 文本帧写出事件
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) Emit(ctx context.Context, ev conversation.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, ev)
}

// HandleWebSocket GET /api/infinite-chat/ws，参数同 SSE。
// 校验失败时以 1008 关闭连接；会话结束后以 1000 关闭，原因为停止原因。
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sess, err := h.newSession(r)
	if err != nil {
		te := ToTypesError(err)
		h.logger.Warn("websocket session rejected", zap.String("code", string(te.Code)), zap.Error(err))
		_ = conn.Close(websocket.StatusPolicyViolation, closeReason(te.Message))
		return
	}

	// 客户端不发送数据；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if h.keepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(h.keepAlive)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pctx, pcancel := context.WithTimeout(ctx, h.keepAlive)
					err := conn.Ping(pctx)
					pcancel()
					if err != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	timeout := h.keepAlive
	if timeout <= 0 {
		timeout = DefaultKeepAlive
	}
	reason, runErr := h.streamer.Run(ctx, sess, &wsSink{conn: conn, timeout: timeout})
	cancel()
	wg.Wait()
	h.logSessionEnd("websocket", sess, reason, runErr)

	_ = conn.Close(websocket.StatusNormalClosure, string(reason))
}

// closeReason 关闭原因最多 123 字节
func closeReason(s string) string {
	if len(s) > 123 {
		return s[:123]
	}
	return s
}

func (h *StreamHandler) logSessionEnd(transport string, sess *conversation.Session, reason conversation.StopReason, err error) {
	fields := []zap.Field{
		zap.String("transport", transport),
		zap.String("session", sess.ID),
		zap.String("reason", string(reason)),
		zap.Int("messages", sess.MessageCount),
	}
	if err != nil {
		h.logger.Warn("stream session ended with error", append(fields, zap.Error(err))...)
		return
	}
	h.logger.Info("stream session ended", fields...)
}
