// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

// Package api 定义 AgentChorus HTTP API 的请求与响应结构。
//
// # 端点
//
//   - POST /api/chat：单轮多模型对话
//   - GET  /api/infinite-chat：流式讨论（SSE）
//   - GET  /api/infinite-chat/ws：流式讨论（WebSocket）
//   - GET  /api/providers、/api/providers/working、/api/providers/health
//   - GET  /api/messages、/api/documents、/api/projects
//   - POST /api/documents：纯文本文档入库
//   - POST /api/project/create
//   - GET  /health、/healthz、/ready、/version
//
// 成功响应保持前端使用的扁平结构（如 {"responses": [...]}），
// 错误统一使用 handlers.Response 信封。
package api
