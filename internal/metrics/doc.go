// 版权所有 2024 AgentChorus Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、Backend 调用、对话轮次、流式会话、缓存与数据库六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。Collector 的记录方法对
nil 接收者安全，未启用指标时调用方可直接传 nil。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - Backend 指标：调用总数、调用耗时、尝试次数、内容校验拒绝、
    学术重构次数，按 provider/model 分组。
  - Round 指标：轮次总数、耗时、每个 Provider 的回复结果。
  - Session 指标：活跃会话 Gauge、事件计数、会话结束原因。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
