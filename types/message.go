package types

import (
	"strings"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one role-tagged turn held in a conversation history.
// Provider is the provider id for assistant turns, or a sentinel such as
// "user" / "infinite-chat" / "project-manager" for the others.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message attributed to provider.
func NewAssistantMessage(provider, content string) Message {
	m := NewMessage(RoleAssistant, content)
	m.Provider = provider
	return m
}

// Blank 判断消息是否为空或占位（内容为空白，或包含 "No response"）。
func (m Message) Blank() bool {
	c := strings.TrimSpace(m.Content)
	return c == "" || strings.Contains(c, "No response")
}

// Turn is a persisted, immutable message with its storage id.
type Turn struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
}

// Message converts the turn into its in-memory form.
func (t Turn) Message() Message {
	return Message{Role: t.Role, Content: t.Content, Provider: t.Provider, Timestamp: t.Timestamp}
}

// Document is the digest view of an uploaded document.
type Document struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	Content      string    `json:"content,omitempty"`
	FileType     string    `json:"fileType"`
	MimeType     string    `json:"mimeType,omitempty"`
	FileSize     int64     `json:"fileSize"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Project is a collaborative project brief.
type Project struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Requirements string    `json:"requirements"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}
