// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

// Package telemetry 初始化 OpenTelemetry SDK（OTLP gRPC 链路与指标导出），
// Invoker 与编排器通过全局 TracerProvider 创建 span。
// 遥测关闭时保留 noop 全局实现，不连接任何外部服务。
package telemetry
