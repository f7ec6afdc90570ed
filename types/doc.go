// Copyright (c) AgentChorus Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentChorus 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、conversation、store、
api 等上层模块提供统一的类型契约。

# 核心类型

  - Role / Message  — 对话消息（Role、Content、Provider、Timestamp）
  - Turn            — 已持久化的不可变对话轮次（带存储 ID）
  - Document        — 上传文档的摘要视图（名称、类型、内容）
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - TokenCounter    — 最小 Token 计数接口，EstimateTokenizer 为字符估算实现

# 主要能力

  - Context 传播：WithTraceID / WithSessionID / WithRequestID
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
*/
package types
