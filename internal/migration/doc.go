// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

/*
包 migration 管理 AgentChorus 持久化表（messages、projects、documents）
的 schema 迁移，支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌。DefaultMigrator 封装
golang-migrate 实例，ctx 取消时请求引擎在当前迁移结束后停止。
SQLite 迁移走 cgo 版 sqlite3 驱动，sqlite 与 sqlite3 两种配置共用
同一套迁移文件。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Force/Version/Status/Info。
  - CLI：`agentchorus migrate <command>` 的格式化输出层。
  - NewMigratorFromConfig：从应用配置创建迁移器。
*/
package migration
