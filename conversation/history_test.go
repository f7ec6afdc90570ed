package conversation

import (
	"fmt"
	"testing"

	"github.com/BaSui01/agentchorus/types"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHistory_TrailingAndLastUser(t *testing.T) {
	h := NewHistory(
		types.NewUserMessage("first"),
		types.NewAssistantMessage("mistral:7b", "reply"),
		types.NewUserMessage("second"),
		types.NewAssistantMessage("codellama:7b", "another"),
	)
	assert.Equal(t, 4, h.Len())
	assert.Len(t, h.Trailing(2), 2)
	assert.Equal(t, "another", h.Trailing(2)[1].Content)
	assert.Len(t, h.Trailing(10), 4)

	last, ok := h.LastUser()
	assert.True(t, ok)
	assert.Equal(t, "second", last.Content)

	_, ok = NewHistory().LastUser()
	assert.False(t, ok)
}

func TestHistory_MessagesIsCopy(t *testing.T) {
	h := NewHistory(types.NewUserMessage("a"))
	msgs := h.Messages()
	msgs[0].Content = "mutated"
	assert.Equal(t, "a", h.Messages()[0].Content)
}

func TestHistory_FromTurns(t *testing.T) {
	h := HistoryFromTurns([]types.Turn{
		{ID: 1, Role: types.RoleUser, Content: "q", Provider: "user"},
		{ID: 2, Role: types.RoleAssistant, Content: "a", Provider: "mistral:7b"},
	})
	msgs := h.Messages()
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "mistral:7b", msgs[1].Provider)
}

func TestHistory_TrimProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		h := NewHistory()
		for i := 0; i < n; i++ {
			h.Append(types.NewAssistantMessage("p", fmt.Sprintf("m%d", i)))
			h.Trim(12, 8)
			if h.Len() > 12 {
				t.Fatalf("history grew to %d", h.Len())
			}
		}
		if n > 0 {
			last := h.Messages()[h.Len()-1]
			if last.Content != fmt.Sprintf("m%d", n-1) {
				t.Fatalf("newest message lost: %q", last.Content)
			}
		}
	})
}
