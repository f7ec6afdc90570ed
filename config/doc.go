// Package config 提供 AgentChorus 的配置管理功能。
//
// 配置优先级：默认值 → YAML 文件 → 环境变量（前缀 AGENTCHORUS）。
// Provider 目录只能通过 YAML 声明；未声明时使用内置的四个 Ollama 模型。
package config
