// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查、
统计信息采集与事务重试。

# 概述

Open 按驱动名（postgres、mysql、sqlite、sqlite3）选择 GORM 方言并创建
PoolManager。PoolManager 统一管理连接生命周期、空闲回收与最大连接数限制，
后台健康检查定时探活并把连接数上报到 Prometheus。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB。
  - PoolConfig：连接池配置，Validate 校验连接数约束。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：sqlite 走纯 Go 驱动，sqlite3 走 cgo 驱动。
  - 健康检查：后台定时 PingContext 探活，Close 时停止。
  - 事务管理：WithTransactionRetry 对死锁、序列化失败等场景指数退避重试。
*/
package database
