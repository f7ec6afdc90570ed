// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

/*
Package handlers 提供 AgentChorus HTTP API 的请求处理器。

# 概述

所有 Handler 遵循标准 net/http 接口，由 cmd/agentchorus 注册到
Go 1.22 的模式路由上。业务逻辑位于 conversation 与 store 包，
这里只负责请求解析、错误映射与响应编码。

# 核心类型

  - ChatHandler      单轮多 Provider 对话（POST /api/chat）
  - StreamHandler    流式讨论，SSE 与 WebSocket 两种传输
  - ProviderHandler  Provider 目录、高可靠列表与并发探活
  - LibraryHandler   对话日志、文档元数据与项目创建
  - HealthHandler    存活、就绪与版本端点
  - ResponseWriter   捕获状态码与字节数，透传 Flusher/Hijacker

# 错误处理

ToTypesError 将领域错误（ValidationError、BackendError、store 哨兵错误）
归一为 types.Error，StatusForCode 再映射为 HTTP 状态码。
流式会话的校验错误在写出任何流数据之前以普通 JSON 错误返回；
WebSocket 则以 1008 关闭连接。
*/
package handlers
