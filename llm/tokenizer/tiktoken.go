package tokenizer

import (
	"fmt"
	"sync"

	"github.com/BaSui01/agentchorus/types"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding 本地模型没有公开的编码表，统一使用 cl100k_base 近似。
const DefaultEncoding = "cl100k_base"

// TiktokenCounter 用 tiktoken 计数；编码加载失败时整体回退到估算器。
type TiktokenCounter struct {
	encoding string
	logger   *zap.Logger

	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
	fallback *types.EstimateTokenizer
}

// NewTiktokenCounter 创建计数器。encoding 为空时使用 DefaultEncoding。
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
		fallback: types.NewEstimateTokenizer(),
	}
}

// init lazily 加载编码（首次使用时可能需要下载 BPE 数据）
func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, using estimator", zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 实现 types.TokenCounter
func (t *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.init() != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages 返回消息列表的总 token 数，包括每条消息的角色与分隔开销。
func (t *TiktokenCounter) CountMessages(messages []types.Message) int {
	if t.init() != nil {
		return t.fallback.CountMessagesTokens(messages)
	}
	total := 0
	for _, msg := range messages {
		// <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(string(msg.Role), nil, nil))
	}
	return total + 3
}

// Exact 报告是否在使用真实编码
func (t *TiktokenCounter) Exact() bool {
	return t.init() == nil
}

// Name 返回计数器名称
func (t *TiktokenCounter) Name() string {
	if !t.Exact() {
		return "estimator"
	}
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
