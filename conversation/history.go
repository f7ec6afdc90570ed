package conversation

import (
	"github.com/BaSui01/agentchorus/types"
)

// History 一次运行独占的内存对话历史，按时间顺序排列。非并发安全。
type History struct {
	msgs []types.Message
}

// NewHistory 以 msgs 的副本初始化
func NewHistory(msgs ...types.Message) *History {
	return &History{msgs: append([]types.Message(nil), msgs...)}
}

// HistoryFromTurns 将已持久化的轮次（时间顺序）转换为历史
func HistoryFromTurns(turns []types.Turn) *History {
	h := &History{msgs: make([]types.Message, 0, len(turns))}
	for _, t := range turns {
		h.msgs = append(h.msgs, t.Message())
	}
	return h
}

// Append 追加消息
func (h *History) Append(msg types.Message) {
	h.msgs = append(h.msgs, msg)
}

// Len 消息数量
func (h *History) Len() int { return len(h.msgs) }

// Messages 返回副本
func (h *History) Messages() []types.Message {
	return append([]types.Message(nil), h.msgs...)
}

// Trailing 最近 n 条消息的副本
func (h *History) Trailing(n int) []types.Message {
	if n <= 0 || n >= len(h.msgs) {
		return h.Messages()
	}
	return append([]types.Message(nil), h.msgs[len(h.msgs)-n:]...)
}

// Trim 长度超过 threshold 时只保留最近 keep 条
func (h *History) Trim(threshold, keep int) {
	if keep <= 0 || len(h.msgs) <= threshold {
		return
	}
	h.msgs = append([]types.Message(nil), h.msgs[len(h.msgs)-keep:]...)
}

// LastUser 最后一条 user 消息
func (h *History) LastUser() (types.Message, bool) {
	for i := len(h.msgs) - 1; i >= 0; i-- {
		if h.msgs[i].Role == types.RoleUser {
			return h.msgs[i], true
		}
	}
	return types.Message{}, false
}
