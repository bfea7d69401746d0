package conversation

import "github.com/BaSui01/llamachat/types"

// Directive 要求后端在回复末尾附上以 "summary" 开头、不超过 50 词的摘要.
const Directive = "\n[Please provide a summary of the response in 50 words OR LESS. Include it at the END of the response. Start the summary with the word 'summary' on a newline without quotes.]"

// Builder 为一次用户输入构造提交给后端的轮次序列.
// 它只会追加，从不删除或重排已有轮次。
type Builder struct {
	policy Policy
}

// NewBuilder 创建指定策略的 Builder.
func NewBuilder(policy Policy) Builder {
	return Builder{policy: policy}
}

// Build 返回要提交的轮次. 返回值是新分配的切片，后端对它的修改不会影响 state。
//
// PolicyPlain 会先把原始用户输入追加到 state；PolicyDirective 不修改 state。
func (b Builder) Build(state *State, userText string) []types.Message {
	switch b.policy {
	case PolicyDirective:
		turns := make([]types.Message, 0, state.Len()+1)
		turns = append(turns, state.turns...)
		return append(turns, types.NewUserMessage(userText+Directive))
	default:
		state.Append(types.NewUserMessage(userText))
		return state.Messages()
	}
}
