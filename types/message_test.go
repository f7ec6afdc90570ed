package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Blank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", true},
		{"whitespace", "  \n\t", true},
		{"placeholder", "No response", true},
		{"embedded placeholder", "mistral: No response received", true},
		{"regular", "Let's talk about entropy.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message{Role: RoleAssistant, Content: tt.content}.Blank())
		})
	}
}

func TestRole_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}

func TestTurn_Message(t *testing.T) {
	t.Parallel()

	msg := NewAssistantMessage("llama3.2:3b", "hi")
	turn := Turn{ID: 7, Role: msg.Role, Content: msg.Content, Provider: msg.Provider, Timestamp: msg.Timestamp}
	assert.Equal(t, msg, turn.Message())
}

func TestContextValues(t *testing.T) {
	t.Parallel()

	ctx := WithSessionID(WithRequestID(WithTraceID(context.Background(), "t1"), "r1"), "s1")

	v, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "t1", v)
	v, ok = RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "r1", v)
	v, ok = SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "s1", v)

	_, ok = SessionID(context.Background())
	assert.False(t, ok)
}

func TestEstimateTokenizer(t *testing.T) {
	t.Parallel()

	tk := NewEstimateTokenizer()
	assert.Equal(t, 0, tk.CountTokens(""))
	assert.Equal(t, 1, tk.CountTokens("hi"))
	assert.Equal(t, 4, tk.CountTokens("abcdefghijklmnop"))
	assert.Equal(t, 2*4+4+1, tk.CountMessagesTokens([]Message{
		{Content: "abcdefghijklmnop"},
		{Content: "a"},
	}))
}
