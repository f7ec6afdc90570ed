// Package stimulus 在流式讨论节奏变慢或到达固定节拍时注入话题延续或反方观点提示。
package stimulus

import (
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/agentchorus/types"
)

// Rand 随机源，测试中可注入固定序列
type Rand interface {
	IntN(n int) int
}

type defaultRand struct{}

func (defaultRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand 使用 math/rand/v2 全局源
var DefaultRand Rand = defaultRand{}

// ContinuationPrompts 话题延续提示池
var ContinuationPrompts = []string{
	"I want to explore this topic further - what are some aspects we haven't considered yet?",
	"This is fascinating - let's dive deeper into the implications of what we've discussed.",
	"Building on our conversation, what are the most important questions we should be asking?",
	"I'd like to challenge some assumptions we might be making about this topic.",
	"What would happen if we approached this problem from a completely different angle?",
	"Are there any counterarguments or alternative perspectives we should examine?",
	"Let's think about the practical applications of what we've been discussing.",
	"What are the potential risks or unintended consequences we should consider?",
	"How does this topic connect to broader trends or patterns?",
	"What evidence would we need to either support or refute our current understanding?",
}

// DebatePrompts 反方观点提示池
var DebatePrompts = []string{
	"I want to respectfully challenge that perspective. Here's why:",
	"That's an interesting point, but what about this potential issue:",
	"I'm not entirely convinced by that reasoning. Consider this:",
	"Playing devil's advocate - couldn't someone argue the opposite:",
	"That raises a good point, but there might be a gap in the logic:",
	"I see merit in that view, but what if we approached it differently:",
	"That's thought-provoking, but you might be overlooking:",
	"I want to push back on that assumption - what if:",
	"Interesting perspective, but consider this counterexample:",
	"I think we need to examine the underlying premises here:",
}

// Config 节拍与阈值
type Config struct {
	ContinuationEvery int `json:"continuation_every" yaml:"continuation_every"`
	DebateEvery       int `json:"debate_every" yaml:"debate_every"`
	// BoostWindow 判定冷场时考察的最近消息数
	BoostWindow   int `json:"boost_window" yaml:"boost_window"`
	MinMeanLength int `json:"min_mean_length" yaml:"min_mean_length"`
	MinTurnLength int `json:"min_turn_length" yaml:"min_turn_length"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ContinuationEvery: 10,
		DebateEvery:       6,
		BoostWindow:       3,
		MinMeanLength:     50,
		MinTurnLength:     20,
	}
}

// Generator 根据消息计数与近期消息选择提示
type Generator struct {
	cfg          Config
	rand         Rand
	continuation []string
	debate       []string
}

// New 创建 Generator。rnd 为 nil 时使用 DefaultRand。
func New(cfg Config, rnd Rand) *Generator {
	def := DefaultConfig()
	if cfg.ContinuationEvery <= 0 {
		cfg.ContinuationEvery = def.ContinuationEvery
	}
	if cfg.DebateEvery <= 0 {
		cfg.DebateEvery = def.DebateEvery
	}
	if cfg.BoostWindow <= 0 {
		cfg.BoostWindow = def.BoostWindow
	}
	if cfg.MinMeanLength <= 0 {
		cfg.MinMeanLength = def.MinMeanLength
	}
	if cfg.MinTurnLength <= 0 {
		cfg.MinTurnLength = def.MinTurnLength
	}
	if rnd == nil {
		rnd = DefaultRand
	}
	return &Generator{
		cfg:          cfg,
		rand:         rnd,
		continuation: ContinuationPrompts,
		debate:       DebatePrompts,
	}
}

// NeedsBoost 判断讨论是否冷场：至少 BoostWindow 条消息，且最后几条平均长度不足，
// 或其中任一条为空、含 "No response"、短于 MinTurnLength。
func (g *Generator) NeedsBoost(recent []types.Message) bool {
	n := g.cfg.BoostWindow
	if len(recent) < n {
		return false
	}
	total := 0
	weak := false
	for _, m := range recent[len(recent)-n:] {
		l := utf8.RuneCountInString(m.Content)
		total += l
		if l == 0 || strings.Contains(m.Content, "No response") || l < g.cfg.MinTurnLength {
			weak = true
		}
	}
	return weak || float64(total)/float64(n) < float64(g.cfg.MinMeanLength)
}

// MaybeStimulate 返回本条消息应附加的提示。
// 优先级：计数到达延续节拍或冷场 → 延续提示；到达辩论节拍 → 反方提示；否则无。
func (g *Generator) MaybeStimulate(count int, recent []types.Message) (string, bool) {
	if count%g.cfg.ContinuationEvery == 0 || g.NeedsBoost(recent) {
		return g.pick(g.continuation), true
	}
	if count%g.cfg.DebateEvery == 0 {
		return g.pick(g.debate), true
	}
	return "", false
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rand.IntN(len(pool))]
}
