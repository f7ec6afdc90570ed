package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentchorus/conversation"
	"github.com/BaSui01/agentchorus/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStreamer 发出固定事件；hold 为 true 时在事件之后阻塞到 ctx 取消
type fakeStreamer struct {
	events []conversation.Event
	hold   bool
	err    error
	ended  chan conversation.StopReason

	mu  sync.Mutex
	cfg conversation.SessionConfig
}

func (f *fakeStreamer) NewSession(ctx context.Context, cfg conversation.SessionConfig) (*conversation.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	return &conversation.Session{ID: cfg.ID, Topic: cfg.Topic, Contextual: cfg.Contextual, Active: true}, nil
}

func (f *fakeStreamer) Run(ctx context.Context, sess *conversation.Session, sink conversation.EventSink) (conversation.StopReason, error) {
	for _, ev := range f.events {
		if err := sink.Emit(ctx, ev); err != nil {
			return conversation.StoppedByClient, nil
		}
		sess.MessageCount++
	}
	if f.hold {
		<-ctx.Done()
		if f.ended != nil {
			f.ended <- conversation.StoppedByClient
		}
		return conversation.StoppedByClient, nil
	}
	return conversation.StoppedOnFailure, types.NewError(types.ErrSessionFatal, "too many consecutive failures")
}

func (f *fakeStreamer) config() conversation.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

var streamEvents = []conversation.Event{
	{Type: conversation.EventMessage, MessageCount: 1, Provider: "mistral:7b", ProviderName: "Mistral 7B", Content: "first", Color: "#7c3aed"},
	{Type: conversation.EventError, Content: conversation.FatalNotice, Color: conversation.ErrorColor},
}

// readSSE 读取 data 帧，直到读到 n 个或流结束
func readSSE(t *testing.T, resp *http.Response, n int) ([]conversation.Event, []string) {
	t.Helper()
	var (
		events   []conversation.Event
		comments []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < n {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			var ev conversation.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			events = append(events, ev)
		case strings.HasPrefix(line, ": "):
			comments = append(comments, strings.TrimPrefix(line, ": "))
		}
	}
	return events, comments
}

func TestStreamHandler_SSE(t *testing.T) {
	streamer := &fakeStreamer{events: streamEvents}
	h := NewStreamHandler(streamer, zap.NewNop(), WithKeepAlive(0))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/infinite-chat?selectedProviders=mistral:7b,%20codellama:7b&topic=caching&contextual=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	events, _ := readSSE(t, resp, 2)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Content)
	assert.Equal(t, 1, events[0].MessageCount)
	assert.Equal(t, conversation.EventError, events[1].Type)
	assert.Equal(t, conversation.FatalNotice, events[1].Content)

	cfg := streamer.config()
	assert.Equal(t, []string{"mistral:7b", "codellama:7b"}, cfg.Providers)
	assert.Equal(t, "caching", cfg.Topic)
	assert.True(t, cfg.Contextual)
	assert.NotEmpty(t, cfg.ID)
}

func TestStreamHandler_SSEUsesRequestID(t *testing.T) {
	streamer := &fakeStreamer{}
	h := NewStreamHandler(streamer, nil, WithKeepAlive(0))

	r := httptest.NewRequest(http.MethodGet, "/api/infinite-chat", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-42"))
	h.HandleSSE(httptest.NewRecorder(), r)

	assert.Equal(t, "req-42", streamer.config().ID)
}

func TestStreamHandler_SSEValidationBeforeHeaders(t *testing.T) {
	streamer := &fakeStreamer{err: &conversation.ValidationError{Field: "selectedProviders", Reason: "no known providers"}}
	h := NewStreamHandler(streamer, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleSSE(w, httptest.NewRequest(http.MethodGet, "/api/infinite-chat?selectedProviders=gpt-99", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestStreamHandler_SSEKeepAlive(t *testing.T) {
	streamer := &fakeStreamer{events: streamEvents[:1], hold: true}
	h := NewStreamHandler(streamer, zap.NewNop(), WithKeepAlive(10*time.Millisecond))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var sawEvent, sawComment bool
	deadline := time.Now().Add(5 * time.Second)
	for !(sawEvent && sawComment) && time.Now().Before(deadline) && scanner.Scan() {
		line := scanner.Text()
		sawEvent = sawEvent || strings.HasPrefix(line, "data: ")
		sawComment = sawComment || line == ": keep-alive"
	}
	assert.True(t, sawEvent)
	assert.True(t, sawComment)
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/infinite-chat/ws" + query
}

func TestStreamHandler_WebSocket(t *testing.T) {
	streamer := &fakeStreamer{events: streamEvents}
	h := NewStreamHandler(streamer, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "?selectedProviders=mistral:7b&topic=queues"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	for _, want := range streamEvents {
		var ev conversation.Event
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		assert.Equal(t, want.Type, ev.Type)
		assert.Equal(t, want.Content, ev.Content)
	}

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	var ce websocket.CloseError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, string(conversation.StoppedOnFailure), ce.Reason)
	assert.Equal(t, "queues", streamer.config().Topic)
}

func TestStreamHandler_WebSocketRejectsInvalidSession(t *testing.T) {
	streamer := &fakeStreamer{err: &conversation.ValidationError{Field: "selectedProviders", Reason: "no known providers"}}
	h := NewStreamHandler(streamer, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "?selectedProviders=gpt-99"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestStreamHandler_WebSocketClientClose(t *testing.T) {
	streamer := &fakeStreamer{events: streamEvents[:1], hold: true, ended: make(chan conversation.StopReason, 1)}
	h := NewStreamHandler(streamer, zap.NewNop(), WithKeepAlive(0))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, ""), nil)
	require.NoError(t, err)

	var ev conversation.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "first", ev.Content)

	// 客户端关闭后 Run 因 ctx 取消而返回
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	select {
	case reason := <-streamer.ended:
		assert.Equal(t, conversation.StoppedByClient, reason)
	case <-ctx.Done():
		t.Fatal("session did not stop after client close")
	}
}

func TestCloseReason(t *testing.T) {
	assert.Equal(t, "short", closeReason("short"))
	assert.Len(t, closeReason(strings.Repeat("x", 200)), 123)
}
