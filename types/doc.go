// Copyright 2026 llamachat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package types 提供 llamachat 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 conversation、llm、session、
api 等上层模块提供统一的类型契约。

# 核心类型

  - Role / Message：对话轮次（user / assistant + 文本内容）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - Context 传播：WithSessionID / WithRequestID
  - 错误工具链：AsError / IsErrorCode / IsRetryable
*/
package types
