// Package window 为每次 Backend 调用构造有界的上下文：
// 截取最近的对话、跳过空白轮次，并合成唯一一条系统指令。
package window

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentchorus/conversation/directive"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/types"
)

const (
	roundIdentityFormat  = "You are %s in a group discussion. Your expertise: %s."
	roundDirectiveFormat = "%s Your specific role: %s."
	buildOnInstruction   = "Previous AI agents have already responded. Build upon their ideas, add your perspective, " +
		"or respectfully expand/critique their points. Keep your response concise but insightful."
	roundDocsHeader = "\n\nAvailable documents for reference:\n"

	streamIdentityFormat  = "You are %s (Message #%d) in an ongoing AI discussion. Your expertise: %s."
	streamDirectiveFormat = "%s Your specific expertise: %s. Message #%d."
	contextualNote        = "Continue the existing conversation naturally, building on previous points and exploring the topic in depth."
	continuePrompt        = "Continue our discussion based on this conversation context:"
)

// DefaultStreamGuidance 流式讨论的长度与语气约束
const DefaultStreamGuidance = "Keep responses under 200 words but make them thoughtful and engaging."

// Config 窗口配置
type Config struct {
	// RoundWindow 单轮模式保留的最近轮次数
	RoundWindow int `json:"round_window" yaml:"round_window"`
	// StreamWindow 流式模式折叠进上下文的最近轮次数
	StreamWindow int `json:"stream_window" yaml:"stream_window"`
	// ExcerptLength 历史与文档摘录的截断长度（字符）
	ExcerptLength int `json:"excerpt_length" yaml:"excerpt_length"`
	// MaxTokens 大于 0 时按 token 预算丢弃最旧的窗口轮次
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	RoundGuidance  string `json:"round_guidance" yaml:"round_guidance"`
	StreamGuidance string `json:"stream_guidance" yaml:"stream_guidance"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		RoundWindow:    8,
		StreamWindow:   4,
		ExcerptLength:  300,
		StreamGuidance: DefaultStreamGuidance,
	}
}

// BuildRequest 单轮模式的输入
type BuildRequest struct {
	History   []types.Message
	Directive directive.Directive
	Provider  llm.ProviderDescriptor
	// TurnIndex 当前 Provider 在本轮中的序号，从 0 开始
	TurnIndex int
	Documents []types.Document
}

// StreamRequest 流式模式的输入
type StreamRequest struct {
	History      []types.Message
	Topic        string
	Directive    directive.Directive
	Provider     llm.ProviderDescriptor
	MessageCount int
	Contextual   bool
	// Stimulus 仅在没有指令时附加
	Stimulus  string
	Documents []types.Document
}

// Manager 上下文窗口管理器，无状态，可并发使用。
type Manager struct {
	cfg     Config
	counter types.TokenCounter
}

// New 创建 Manager。counter 为 nil 时使用字符估算。
func New(cfg Config, counter types.TokenCounter) *Manager {
	def := DefaultConfig()
	if cfg.RoundWindow <= 0 {
		cfg.RoundWindow = def.RoundWindow
	}
	if cfg.StreamWindow <= 0 {
		cfg.StreamWindow = def.StreamWindow
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = def.ExcerptLength
	}
	if counter == nil {
		counter = types.NewEstimateTokenizer()
	}
	return &Manager{cfg: cfg, counter: counter}
}

// Config 返回生效的配置
func (m *Manager) Config() Config { return m.cfg }

// Build 构造单轮模式的上下文：系统指令在前，其后为最近 RoundWindow 条非空白轮次。
func (m *Manager) Build(req BuildRequest) []types.Message {
	sys := types.Message{Role: types.RoleSystem, Content: m.RoundInstruction(req)}
	turns := Trailing(Visible(req.History), m.cfg.RoundWindow)
	turns = m.fitBudget(turns, sys)

	out := make([]types.Message, 0, len(turns)+1)
	out = append(out, sys)
	return append(out, turns...)
}

// RoundInstruction 合成单轮模式的系统指令
func (m *Manager) RoundInstruction(req BuildRequest) string {
	p := req.Provider
	var b strings.Builder
	switch {
	case !req.Directive.IsNormal():
		fmt.Fprintf(&b, roundDirectiveFormat, req.Directive.Instruction, p.ExpertiseOrDefault())
	case req.TurnIndex > 0:
		fmt.Fprintf(&b, roundIdentityFormat, p.DisplayName(), p.ExpertiseOrDefault())
		b.WriteString(" " + buildOnInstruction)
	default:
		fmt.Fprintf(&b, roundIdentityFormat, p.DisplayName(), p.ExpertiseOrDefault())
	}
	if m.cfg.RoundGuidance != "" {
		b.WriteString(" " + m.cfg.RoundGuidance)
	}
	if len(req.Documents) > 0 {
		digests := make([]string, 0, len(req.Documents))
		for _, d := range req.Documents {
			digests = append(digests, fmt.Sprintf("%s: %s...", d.OriginalName, Truncate(d.Content, m.cfg.ExcerptLength)))
		}
		b.WriteString(roundDocsHeader)
		b.WriteString(strings.Join(digests, "\n\n"))
	}
	return b.String()
}

// BuildStreaming 构造流式模式的上下文。历史中没有可见轮次时，只发送话题本身。
func (m *Manager) BuildStreaming(req StreamRequest) []types.Message {
	visible := Visible(req.History)
	sys := types.Message{Role: types.RoleSystem, Content: m.StreamInstruction(req, len(visible) > 0)}

	out := []types.Message{sys}
	if len(visible) == 0 {
		return append(out, types.Message{Role: types.RoleUser, Content: req.Topic})
	}

	turns := Trailing(visible, m.cfg.StreamWindow)
	folded := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role == types.RoleAssistant {
			folded = append(folded, types.Message{
				Role:     types.RoleAssistant,
				Content:  t.Provider + ": " + Truncate(t.Content, m.cfg.ExcerptLength),
				Provider: t.Provider,
			})
			continue
		}
		folded = append(folded, types.Message{Role: types.RoleUser, Content: Truncate(t.Content, m.cfg.ExcerptLength)})
	}
	lead := types.Message{Role: types.RoleUser, Content: continuePrompt}
	folded = m.fitBudget(folded, sys, lead)

	out = append(out, lead)
	return append(out, folded...)
}

// StreamInstruction 合成流式模式的系统指令
func (m *Manager) StreamInstruction(req StreamRequest, hasHistory bool) string {
	p := req.Provider
	var b strings.Builder
	if !req.Directive.IsNormal() {
		fmt.Fprintf(&b, streamDirectiveFormat, req.Directive.Instruction, p.ExpertiseOrDefault(), req.MessageCount)
	} else {
		fmt.Fprintf(&b, streamIdentityFormat, p.DisplayName(), req.MessageCount, p.ExpertiseOrDefault())
		if req.Contextual && hasHistory {
			b.WriteString(" " + contextualNote)
		}
		if req.Stimulus != "" {
			b.WriteString(" " + req.Stimulus)
		}
	}
	if m.cfg.StreamGuidance != "" {
		b.WriteString(" " + m.cfg.StreamGuidance)
	}
	if len(req.Documents) > 0 {
		names := make([]string, 0, len(req.Documents))
		for _, d := range req.Documents {
			names = append(names, fmt.Sprintf("File: %s (%s)", d.OriginalName, d.FileType))
		}
		fmt.Fprintf(&b, " Recent documents available: %s. Reference these if relevant.", strings.Join(names, ", "))
	}
	return b.String()
}

// fitBudget 从最旧的轮次开始丢弃，直到总 token 数不超过预算。最新的一条始终保留。
func (m *Manager) fitBudget(turns []types.Message, fixed ...types.Message) []types.Message {
	if m.cfg.MaxTokens <= 0 || len(turns) == 0 {
		return turns
	}
	total := m.EstimateTokens(fixed) + m.EstimateTokens(turns)
	for len(turns) > 1 && total > m.cfg.MaxTokens {
		total -= m.messageTokens(turns[0])
		turns = turns[1:]
	}
	return turns
}

// messageTokens 单条消息的 token 数，含 4 个角色与分隔开销
func (m *Manager) messageTokens(msg types.Message) int {
	return m.counter.CountTokens(msg.Content) + 4
}

// EstimateTokens 返回消息列表的 token 估算
func (m *Manager) EstimateTokens(msgs []types.Message) int {
	total := 0
	for _, msg := range msgs {
		total += m.messageTokens(msg)
	}
	return total
}

// Visible 过滤掉 system 轮次与空白/占位轮次，返回新切片。
func Visible(history []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history))
	for _, t := range history {
		if t.Role == types.RoleSystem || t.Blank() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Trailing 返回最后 n 条，不足 n 条时原样返回。
func Trailing(msgs []types.Message, n int) []types.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// Truncate 按字符截断
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
