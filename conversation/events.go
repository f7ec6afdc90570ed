package conversation

import (
	"context"
	"time"
)

// EventType 流式事件类型
type EventType string

const (
	EventMessage EventType = "message"
	EventError   EventType = "error"
)

// StopReason 会话结束原因
type StopReason string

const (
	StoppedByClient  StopReason = "STOPPED_BY_CLIENT"
	StoppedOnFailure StopReason = "STOPPED_ON_FAILURE"
)

// 错误事件的固定文案
const (
	ErrorColor       = "#dc2626"
	RetryNotice      = "Temporarily unable to respond. Trying again..."
	FatalNotice      = "Multiple AI providers are having issues. Please check your Ollama setup and model availability."
	timestampLayout  = "2006-01-02T15:04:05.000Z07:00"
	roundErrorFormat = "Error: Could not get response from %s - %s"
)

// Event 是推送给客户端的一条流式事件。
// 终止事件只有 Type、Content 与 Color。
type Event struct {
	Type         EventType `json:"type"`
	MessageCount int       `json:"messageCount,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	ProviderName string    `json:"providerName,omitempty"`
	Content      string    `json:"content"`
	Color        string    `json:"color"`
	Timestamp    string    `json:"timestamp,omitempty"`
	Expertise    string    `json:"expertise,omitempty"`
}

// EventSink 接收会话事件。Emit 返回错误视为客户端已断开。
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, ev Event) error

// Emit 实现 EventSink
func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
