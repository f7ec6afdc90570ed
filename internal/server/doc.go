// Copyright (c) AgentChorus Authors.
// Use of this source code is governed by the MIT license.

/*
包 server 管理 HTTP 服务器的生命周期：非阻塞启动、信号监听与优雅关闭。

# 长连接

流式会话（SSE 与 WebSocket）会一直占用请求，http.Server.Shutdown 无法
等到它们自然结束。Manager 为所有请求提供一个可取消的基础 context，
Shutdown 先取消它，让进行中的会话以“客户端断开”的方式停止，再排空连接。

# 核心类型

  - Manager：持有 http.Server、listener 与异步错误通道
  - Config：监听地址、读写超时与关闭超时，可由 config.ServerConfig 生成
*/
package server
