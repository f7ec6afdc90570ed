// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

/*
包 conversation 实现多模型对话的两种编排方式。

# 单轮编排

RunRound 把同一段历史依次交给每个选中的 Provider：第一个回答问题，
后续 Provider 在提示中被要求基于前面的回答继续补充或质疑。单个
Provider 的失败只会产生一条错误条目，不会中断其他 Provider。

# 流式编排

Stream 驱动一个无限循环的讨论会话：每次随机选择一个 Provider，
按需注入刺激提示，成功的回复以事件形式推送给 EventSink 并写入存储。
连续失败达到阈值时发送终止事件并停止；客户端断开（ctx 取消或
Emit 返回错误）时立即停止，之后不再发送任何事件。

# 依赖注入

Orchestrator 的随机源、休眠函数与时钟均可替换，测试无需真实等待。
*/
package conversation
