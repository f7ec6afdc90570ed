// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

/*
Package main 提供 AgentChorus 服务端程序入口。

# 子命令

  - serve    加载配置并启动 API 与 Metrics 两个端口
  - migrate  up、down、status、version、goto、force、steps、reset
  - health   请求 /health 并以退出码报告结果
  - version  打印构建信息

# 组装

serve 依次初始化 OpenTelemetry、Prometheus 指标、持久化后端
（memory、sql 或 mongo，可选 Redis 文档缓存）、Provider 目录与
Backend Invoker，最后由 conversation.Orchestrator 驱动单轮与流式端点。
中间件链为 Recovery → RequestID → OTelTracing → Metrics →
SecurityHeaders → RequestLogger → CORS → RateLimiter。
*/
package main
