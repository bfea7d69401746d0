// 版权所有 2024 llamachat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义对话历史管理器与文本生成后端之间的边界。

# 概述

历史管理器把生成后端视为黑盒：提交有序的对话轮次和采样参数，得到
一组候选回复，或一个可分类的失败。本包只描述这条边界，不关心模型
加载、显存分配和分词细节。

# 核心接口

  - [Generator]：单次同步生成，Generate(ctx, req) (*GenerationResult, error)
  - [CacheClearer]：资源耗尽后的缓存清理回调，无返回值，尽力而为
  - [HealthChecker]：可选的后端健康检查

# 核心类型

  - [GenerationRequest]：轮次 + temperature / top_p / max_gen_len
  - [GenerationResult] / [Candidate]：候选回复，内容位于 candidates[i].generation.content
  - [HealthStatus]：健康检查状态

资源耗尽通过 *types.Error{Code: types.ErrResourceExhausted} 表达，调用方用
types.IsErrorCode 判断。
*/
package llm
