package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedGenerator 按顺序返回预设结果，并记录收到的请求.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []func(req *llm.GenerationRequest) (*llm.GenerationResult, error)
	requests []*llm.GenerationRequest
	cleared  int
}

func (g *scriptedGenerator) Generate(_ context.Context, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.replies) == 0 {
		return textResult("default reply"), nil
	}
	next := g.replies[0]
	g.replies = g.replies[1:]
	return next(req)
}

func (g *scriptedGenerator) ClearCache(context.Context) {
	g.mu.Lock()
	g.cleared++
	g.mu.Unlock()
}

func (g *scriptedGenerator) then(fn func(req *llm.GenerationRequest) (*llm.GenerationResult, error)) *scriptedGenerator {
	g.replies = append(g.replies, fn)
	return g
}

func (g *scriptedGenerator) text(s string) *scriptedGenerator {
	return g.then(func(*llm.GenerationRequest) (*llm.GenerationResult, error) { return textResult(s), nil })
}

func (g *scriptedGenerator) fail(err error) *scriptedGenerator {
	return g.then(func(*llm.GenerationRequest) (*llm.GenerationResult, error) { return nil, err })
}

func textResult(s string) *llm.GenerationResult {
	msg := types.NewAssistantMessage(s)
	return &llm.GenerationResult{Candidates: []llm.Candidate{{Generation: &msg}}}
}

type recordingObserver struct {
	outcomes []Outcome
	pruned   int
	clears   int
}

func (o *recordingObserver) ObserveChat(_ Policy, outcome Outcome, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}
func (o *recordingObserver) ObservePrune(removed, _ int) { o.pruned += removed }
func (o *recordingObserver) ObserveCacheClear()          { o.clears++ }

func newTestManager(t *testing.T, gen llm.Generator, policy Policy, limit int, opts ...Option) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Policy = policy
	cfg.PruneTrigger = ""
	cfg.TokenLimit = limit
	m, err := NewManager(gen, cfg, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return m
}

var resourceExhausted = types.NewError(types.ErrResourceExhausted, "CUDA out of memory")

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.TopP = 0
	_, err = NewManager(&scriptedGenerator{}, cfg)
	assert.Error(t, err)
}

func TestManager_EndToEndSummaryReply(t *testing.T) {
	for _, policy := range []Policy{PolicyPlain, PolicyDirective} {
		t.Run(string(policy), func(t *testing.T) {
			gen := (&scriptedGenerator{}).text("Summary: ok")
			m := newTestManager(t, gen, policy, 5)

			reply := m.Chat(context.Background(), "hi there")

			assert.Equal(t, "Summary: ok", reply)
			history := m.History()
			require.NotEmpty(t, history)
			assert.LessOrEqual(t, len(history), 2)
			assert.Equal(t, types.NewAssistantMessage("Summary: ok"), history[len(history)-1])
			assert.LessOrEqual(t, m.Tokens(), 5)
		})
	}
}

func TestManager_DirectiveSentButNotStored(t *testing.T) {
	gen := (&scriptedGenerator{}).text("A long answer.\nsummary short gist")
	m := newTestManager(t, gen, PolicyDirective, 1000)

	reply := m.Chat(context.Background(), "question")

	assert.Equal(t, "A long answer.\nsummary short gist", reply)
	require.Len(t, gen.requests, 1)
	sent := gen.requests[0].Messages
	require.Len(t, sent, 1)
	assert.Equal(t, "question"+Directive, sent[0].Content)

	assert.Equal(t, []types.Message{
		types.NewUserMessage("question"),
		types.NewAssistantMessage("summary short gist"),
	}, m.History())
}

func TestManager_PlainStoresSummarySuffix(t *testing.T) {
	gen := (&scriptedGenerator{}).text("  Full reply body. Summary: the gist  ")
	m := newTestManager(t, gen, PolicyPlain, 1000)

	reply := m.Chat(context.Background(), "tell me")

	assert.Equal(t, "Full reply body. Summary: the gist", reply)
	assert.Equal(t, []types.Message{
		types.NewUserMessage("tell me"),
		types.NewAssistantMessage("Summary: the gist"),
	}, m.History())
	require.Len(t, gen.requests, 1)
	assert.Equal(t, []types.Message{types.NewUserMessage("tell me")}, gen.requests[0].Messages)
}

func TestManager_ForwardsSamplingParameters(t *testing.T) {
	gen := &scriptedGenerator{}
	maxGen := 64
	cfg := Config{Temperature: 0.2, TopP: 0.5, MaxGenLen: &maxGen, TokenLimit: 100}
	m, err := NewManager(gen, cfg)
	require.NoError(t, err)

	m.Chat(context.Background(), "x")

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, 0.2, req.Temperature)
	assert.Equal(t, 0.5, req.TopP)
	require.NotNil(t, req.MaxGenLen)
	assert.Equal(t, 64, *req.MaxGenLen)
}

func TestManager_TurnCountWithoutPruning(t *testing.T) {
	for _, policy := range []Policy{PolicyPlain, PolicyDirective} {
		t.Run(string(policy), func(t *testing.T) {
			m := newTestManager(t, &scriptedGenerator{}, policy, 100000)
			for i := 1; i <= 5; i++ {
				m.Chat(context.Background(), "hello")
				assert.Equal(t, 2*i, m.Len())
			}
		})
	}
}

func TestManager_TurnCountMinusPruned(t *testing.T) {
	obs := &recordingObserver{}
	m := newTestManager(t, &scriptedGenerator{}, PolicyDirective, 7, WithObserver(obs))

	const calls = 6
	for i := 0; i < calls; i++ {
		m.Chat(context.Background(), "one two")
		assert.LessOrEqual(t, m.Tokens(), 7)
	}
	assert.Greater(t, obs.pruned, 0)
	assert.Equal(t, 2*calls-obs.pruned, m.Len())
}

func TestManager_ThresholdTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenLimit = 2
	cfg.HistorySizeThreshold = 4
	cfg.PruneTrigger = TriggerThreshold
	m, err := NewManager(&scriptedGenerator{}, cfg)
	require.NoError(t, err)

	m.Chat(context.Background(), "a b c")
	m.Chat(context.Background(), "a b c")
	assert.Equal(t, 4, m.Len(), "no pruning until the turn count exceeds the threshold")

	m.Chat(context.Background(), "a b c")
	assert.LessOrEqual(t, m.Tokens(), 2)
	assert.Less(t, m.Len(), 6)
}

func TestManager_ResourceExhaustion(t *testing.T) {
	tests := []struct {
		policy  Policy
		wantLen int
	}{
		{policy: PolicyPlain, wantLen: 3},
		{policy: PolicyDirective, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			gen := (&scriptedGenerator{}).text("first").fail(resourceExhausted)
			obs := &recordingObserver{}
			m := newTestManager(t, gen, tt.policy, 1000, WithObserver(obs))

			m.Chat(context.Background(), "hi")
			require.Equal(t, 2, m.Len())

			reply := m.Chat(context.Background(), "again")

			assert.Equal(t, "[Error]: CUDA out of memory. Please try again.", reply)
			assert.True(t, IsErrorReply(reply))
			assert.Equal(t, 1, gen.cleared)
			assert.Equal(t, 1, obs.clears)
			assert.Equal(t, tt.wantLen, m.Len())
			if tt.policy == PolicyPlain {
				assert.Equal(t, types.NewUserMessage("again"), m.History()[2])
			}
			assert.Equal(t, []Outcome{OutcomeOK, OutcomeResourceExhausted}, obs.outcomes)
		})
	}
}

func TestManager_ExplicitCacheClearer(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, *llm.GenerationRequest) (*llm.GenerationResult, error) {
		return nil, resourceExhausted
	})
	calls := 0
	m := newTestManager(t, gen, PolicyDirective, 100,
		WithCacheClearer(llm.CacheClearerFunc(func(context.Context) { calls++ })))

	reply := m.Chat(context.Background(), "hi")
	assert.True(t, IsErrorReply(reply))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, m.Len())
}

func TestManager_BackendFailure(t *testing.T) {
	gen := (&scriptedGenerator{}).fail(errors.New("connection refused"))
	m := newTestManager(t, gen, PolicyDirective, 100)

	reply := m.Chat(context.Background(), "hi")

	assert.Equal(t, "[Error]: chat_completion failed: connection refused", reply)
	assert.Equal(t, 0, gen.cleared)
	assert.Equal(t, 0, m.Len())
}

func TestManager_BackendFailurePlainKeepsUserTurn(t *testing.T) {
	gen := (&scriptedGenerator{}).fail(errors.New("boom"))
	m := newTestManager(t, gen, PolicyPlain, 100)

	reply := m.Chat(context.Background(), "hi")

	assert.True(t, strings.HasPrefix(reply, "[Error]: chat_completion failed"))
	assert.Equal(t, []types.Message{types.NewUserMessage("hi")}, m.History())
}

func TestManager_GeneratorPanic(t *testing.T) {
	gen := (&scriptedGenerator{}).then(func(*llm.GenerationRequest) (*llm.GenerationResult, error) {
		panic("index out of range")
	})
	m := newTestManager(t, gen, PolicyDirective, 100)

	var reply string
	assert.NotPanics(t, func() { reply = m.Chat(context.Background(), "hi") })
	assert.Contains(t, reply, "[Error]: chat_completion failed")
	assert.Contains(t, reply, "index out of range")
	assert.Equal(t, 0, m.Len())
}

func TestManager_MalformedResult(t *testing.T) {
	results := map[string]*llm.GenerationResult{
		"nil result":      nil,
		"empty candidate": {Candidates: []llm.Candidate{}},
	}

	for name, result := range results {
		t.Run(name, func(t *testing.T) {
			gen := (&scriptedGenerator{}).text("first").then(func(*llm.GenerationRequest) (*llm.GenerationResult, error) {
				return result, nil
			})
			m := newTestManager(t, gen, PolicyDirective, 1000)
			m.Chat(context.Background(), "hi")
			before := m.Len()

			reply := m.Chat(context.Background(), "again")

			assert.Equal(t, "[Error]: Unexpected results format.", reply)
			assert.Equal(t, before, m.Len())
		})
	}
}

func TestManager_ExtractionFailure(t *testing.T) {
	gen := (&scriptedGenerator{}).then(func(*llm.GenerationRequest) (*llm.GenerationResult, error) {
		return &llm.GenerationResult{Candidates: []llm.Candidate{{FinishReason: "stop"}}}, nil
	})
	m := newTestManager(t, gen, PolicyDirective, 100)

	reply := m.Chat(context.Background(), "hi")

	assert.Equal(t, "[Error]: Failed to extract response content.", reply)
	assert.Equal(t, 0, m.Len())
}

// 两种策略使用同一组错误回复文本
func TestManager_ErrorRepliesSameForBothPolicies(t *testing.T) {
	failures := map[string]struct {
		gen  func() *scriptedGenerator
		want string
	}{
		"resource exhausted": {
			gen:  func() *scriptedGenerator { return (&scriptedGenerator{}).fail(resourceExhausted) },
			want: "[Error]: CUDA out of memory. Please try again.",
		},
		"backend failure": {
			gen:  func() *scriptedGenerator { return (&scriptedGenerator{}).fail(errors.New("boom")) },
			want: "[Error]: chat_completion failed: boom",
		},
		"malformed result": {
			gen: func() *scriptedGenerator {
				return (&scriptedGenerator{}).then(func(*llm.GenerationRequest) (*llm.GenerationResult, error) {
					return &llm.GenerationResult{}, nil
				})
			},
			want: "[Error]: Unexpected results format.",
		},
		"extraction failure": {
			gen: func() *scriptedGenerator {
				return (&scriptedGenerator{}).then(func(*llm.GenerationRequest) (*llm.GenerationResult, error) {
					return &llm.GenerationResult{Candidates: []llm.Candidate{{FinishReason: "stop"}}}, nil
				})
			},
			want: "[Error]: Failed to extract response content.",
		},
	}

	for name, f := range failures {
		for _, policy := range []Policy{PolicyPlain, PolicyDirective} {
			t.Run(name+"/"+string(policy), func(t *testing.T) {
				m := newTestManager(t, f.gen(), policy, 100)
				assert.Equal(t, f.want, m.Chat(context.Background(), "hi"))
			})
		}
	}
}

func TestManager_WithHistory(t *testing.T) {
	initial := []types.Message{types.NewUserMessage("earlier"), types.NewAssistantMessage("reply")}
	gen := &scriptedGenerator{}
	m := newTestManager(t, gen, PolicyPlain, 100, WithHistory(initial))

	m.Chat(context.Background(), "now")

	require.Len(t, gen.requests, 1)
	assert.Len(t, gen.requests[0].Messages, 3)
	assert.Equal(t, 4, m.Len())
	assert.Equal(t, "earlier", initial[0].Content)
}
