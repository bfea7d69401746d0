package tokenizer

import (
	"fmt"

	"github.com/BaSui01/llamachat/types"
	"go.uber.org/zap"
)

// Counter 是历史裁剪使用的最小计数接口.
type Counter interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) int

	// Name 返回计数器名称.
	Name() string
}

// CountMessages 返回消息列表内容的 token 总数，不计角色开销.
func CountMessages(c Counter, msgs []types.Message) int {
	total := 0
	for _, msg := range msgs {
		total += c.CountTokens(msg.Content)
	}
	return total
}

const (
	// KindWords 按空白分词计数.
	KindWords = "words"
	// KindTiktoken 使用 tiktoken 编码计数.
	KindTiktoken = "tiktoken"
)

// New 按名称创建计数器. 空名称等价于 KindWords.
func New(kind, model string, logger *zap.Logger) (Counter, error) {
	switch kind {
	case "", KindWords:
		return WordCounter{}, nil
	case KindTiktoken:
		return NewTiktokenCounter(model, logger), nil
	default:
		return nil, fmt.Errorf("unknown token counter: %s", kind)
	}
}
