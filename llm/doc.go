// 版权所有 2024 AgentChorus Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供多模型对话编排所需的模型接入层：Backend 协议抽象、
Provider 描述符与只读注册表。

# 概述

每个 Provider 是一个可选择的模型后端（例如本地 Ollama 上的
mistral:7b），由 [ProviderDescriptor] 描述展示信息、可靠性等级、
协议类型与生成参数。启动时构建一次 [Registry]，之后只读，
可被所有会话并发访问。

# 核心接口

  - [Backend]：后端协议接口，提供 Generate / HealthCheck / Name
  - [Registry]：不可变 Provider 注册表，提供 List / Resolve / Reliable /
    Backend / ProbeAll

# 核心类型

  - [ProviderDescriptor]：Provider 元数据
  - [GenerationParams]：按 Provider 配置的数值生成参数
  - [GenerateRequest]：单次生成请求
  - [HealthStatus] / [ProbeResult]：健康检查结果
  - [Error]：协议层错误，携带 HTTP 状态与可重试标记

# 子包

  - retry：集中式重试策略与可取消的休眠
  - providers：各协议后端实现（ollama、openaicompat）
  - invoker：带重试与内容校验的 Backend Invoker
  - factory：按配置构建协议后端
  - tokenizer：tiktoken 计数器
*/
package llm
