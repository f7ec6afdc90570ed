package tokenizer

import (
	"sync"

	"github.com/BaSui01/agentchorus/types"
	"go.uber.org/zap"
)

// Counter 是窗口管理使用的计数接口
type Counter interface {
	types.TokenCounter
	CountMessages(messages []types.Message) int
}

// 进程内按编码共享计数器，避免重复加载 BPE 表。
var (
	counters   = make(map[string]*TiktokenCounter)
	countersMu sync.Mutex
)

// ForEncoding 返回 encoding 对应的共享计数器
func ForEncoding(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	countersMu.Lock()
	defer countersMu.Unlock()
	if c, ok := counters[encoding]; ok {
		return c
	}
	c := NewTiktokenCounter(encoding, logger)
	counters[encoding] = c
	return c
}
