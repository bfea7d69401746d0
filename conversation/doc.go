// 版权所有 2024 llamachat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 提供对话历史管理器：决定发送给生成后端的上下文、
把生成结果整理成可存储的轮次，并按 token 预算裁剪历史。

# 概述

一次 Chat 调用的流程：

	用户输入 → Builder 构造轮次 → Generator.Generate → 校验结果形状
	        → PostProcess 得到助手轮次 → 追加到 State → 必要时 Pruner 裁剪
	        → 返回完整回复文本

Chat 从不返回 error：所有失败都转换成以 "[Error]:" 开头的字符串。

# 策略

  - PolicyPlain：先把原始用户输入追加到历史，再提交完整历史；
    回复中出现 "summary" 时只存储从该标记开始的部分
  - PolicyDirective：提交 历史 + (用户输入 + Directive) 的临时轮次，
    不把带指令的文本写入历史；成功后追加原始用户输入与摘要

# 裁剪

token 数 = 所有轮次内容的空白分词数之和。超过 TokenLimit 时从最旧的
一端逐条删除，直到不超过预算或历史为空。TriggerThreshold 只在轮次数
超过 HistorySizeThreshold 时裁剪，TriggerAlways 每轮都裁剪。

# 并发

Manager 不是并发安全的：同一会话的 Chat 调用必须串行。多个会话各自
持有独立的 Manager，互不共享状态。
*/
package conversation
