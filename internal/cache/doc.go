// Copyright (c) AgentChorus Authors.

/*
包 cache 提供基于 Redis 的缓存管理能力，用于最近文档等读多写少数据的短期缓存。

# 核心类型

  - Manager：持有 go-redis 客户端与连接池配置，提供 Get/Set/Delete
    以及 GetJSON/SetJSON 便捷序列化方法，所有键自动加上 KeyPrefix。
  - Config：地址、密码、连接池大小、默认 TTL、键前缀与健康检查间隔。

# 主要能力

  - 命中/未命中计入 metrics.Collector（可选）。
  - 健康检查：后台定时 Ping，异常时通过 zap 日志告警。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
