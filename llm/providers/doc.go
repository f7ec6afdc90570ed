// Copyright 2026 AgentChorus Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供各后端协议实现的公共基础层。子包 ollama 与 openaicompat
依赖本包完成错误映射、错误体读取与消息格式转换。

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - TransportError / EmptyBodyError — 网络失败与空响应体的统一错误构造
  - ReadErrorMessage — 读取 OpenAI 风格或 Ollama 风格的错误体
  - ToWireMessages — types.Message 到 {role, content} 线格式的转换
*/
package providers
