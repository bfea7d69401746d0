// Package tokenizer 提供对话历史的 token 计数器：默认按空白分词计数，可选 tiktoken 精确计数。
package tokenizer
