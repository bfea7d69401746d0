package conversation

import (
	"github.com/BaSui01/llamachat/llm/tokenizer"
	"github.com/BaSui01/llamachat/types"
)

// State 是按时间顺序排列的对话轮次，只能追加或从最旧一端删除.
type State struct {
	turns []types.Message
}

// NewState 创建状态，可选地用已有轮次初始化（会被复制）.
func NewState(initial ...types.Message) *State {
	return &State{turns: types.CloneMessages(initial)}
}

// Append 在末尾追加一个轮次.
func (s *State) Append(msg types.Message) {
	s.turns = append(s.turns, msg)
}

// Len 返回轮次数.
func (s *State) Len() int {
	return len(s.turns)
}

// Messages 返回轮次的副本.
func (s *State) Messages() []types.Message {
	out := make([]types.Message, len(s.turns))
	copy(out, s.turns)
	return out
}

// DropOldest 删除并返回最旧的轮次.
func (s *State) DropOldest() (types.Message, bool) {
	if len(s.turns) == 0 {
		return types.Message{}, false
	}
	msg := s.turns[0]
	s.turns[0] = types.Message{}
	s.turns = s.turns[1:]
	return msg, true
}

// Tokens 用给定计数器统计全部轮次的 token 数.
func (s *State) Tokens(c tokenizer.Counter) int {
	return tokenizer.CountMessages(c, s.turns)
}
