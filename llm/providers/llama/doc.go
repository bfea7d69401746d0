// Copyright 2026 llamachat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 llama 把本地或内网的 Llama 推理服务（llama.cpp server、vLLM、TGI）
适配为 llm.Generator。这些服务都暴露 OpenAI 兼容的
/v1/chat/completions 接口。

# 核心结构体

  - Provider：实现 llm.Generator、llm.CacheClearer、llm.HealthChecker
  - Config：服务地址、序列长度上限、并发批大小、缓存清理路径

# 定制行为

  - max_tokens 未指定时使用 MaxSeqLen-1
  - 提示词数达到 MaxSeqLen 时在本地拒绝（ErrContextTooLong）
  - HTTP 507 或带显存耗尽文本的 5xx 映射为 ErrResourceExhausted
  - 同时进行的生成请求数不超过 MaxBatchSize
  - ClearCache 调用 CacheClearPath（默认 llama.cpp 的 /slots/0?action=erase）
*/
package llama
