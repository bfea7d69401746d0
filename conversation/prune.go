package conversation

import (
	"github.com/BaSui01/llamachat/llm/tokenizer"
	"go.uber.org/zap"
)

// Pruner 从最旧的一端删除轮次，直到 token 数不超过预算.
type Pruner struct {
	counter tokenizer.Counter
	limit   int
	logger  *zap.Logger
}

// NewPruner 创建裁剪器. counter 为 nil 时使用 WordCounter。
func NewPruner(counter tokenizer.Counter, limit int, logger *zap.Logger) *Pruner {
	if counter == nil {
		counter = tokenizer.WordCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{counter: counter, limit: limit, logger: logger}
}

// Prune 原地裁剪 state，返回删除的轮次数.
// 单个轮次本身超出预算时会一直删到历史为空。
func (p *Pruner) Prune(state *State) int {
	total := state.Tokens(p.counter)
	if total <= p.limit {
		p.logger.Debug("history within token limit",
			zap.Int("current", total),
			zap.Int("max", p.limit))
		return 0
	}

	removed := 0
	for total > p.limit {
		msg, ok := state.DropOldest()
		if !ok {
			break
		}
		total -= p.counter.CountTokens(msg.Content)
		removed++
		p.logger.Debug("removed turn to stay within token limit",
			zap.String("role", string(msg.Role)),
			zap.Int("tokens", p.counter.CountTokens(msg.Content)))
	}

	p.logger.Info("pruned history",
		zap.Int("removed", removed),
		zap.Int("remaining", state.Len()),
		zap.Int("tokens", total))
	return removed
}
