// Package tokenizer 提供基于 tiktoken 的 Token 计数，
// 编码不可用时回退到 types.EstimateTokenizer 的字符估算，用于上下文窗口的 Token 预算。
package tokenizer
