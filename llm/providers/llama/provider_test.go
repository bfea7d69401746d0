package llama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/llm/providers"
	"github.com/BaSui01/llamachat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, cfg Config) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg.BaseURL = server.URL
	return New(cfg, zap.NewNop(), WithHTTPClient(server.Client()))
}

func userRequest(text string) *llm.GenerationRequest {
	return &llm.GenerationRequest{
		Messages:    []types.Message{types.NewUserMessage(text)},
		Temperature: 0.6,
		TopP:        0.9,
	}
}

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	cfg := p.Config()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultMaxSeqLen, cfg.MaxSeqLen)
	assert.Equal(t, DefaultMaxBatchSize, cfg.MaxBatchSize)
	assert.Equal(t, DefaultEndpointPath, cfg.EndpointPath)
	assert.Equal(t, DefaultHealthPath, cfg.HealthPath)
	assert.Equal(t, DefaultCacheClearPath, cfg.CacheClearPath)
	assert.Equal(t, "llama", p.Name())
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestGenerate_Success(t *testing.T) {
	var got providers.OpenAICompatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","model":"llama-2-7b-chat","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Summary: ok"}}]}`))
	}, Config{APIKey: "secret", Model: "llama-2-7b-chat", MaxSeqLen: 128})

	result, err := p.Generate(context.Background(), userRequest("hi there"))
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	require.NotNil(t, result.Candidates[0].Generation)
	assert.Equal(t, types.NewAssistantMessage("Summary: ok"), *result.Candidates[0].Generation)
	assert.Equal(t, "stop", result.Candidates[0].FinishReason)
	assert.Equal(t, "llama", result.Provider)

	assert.Equal(t, "llama-2-7b-chat", got.Model)
	assert.Equal(t, 127, got.MaxTokens, "defaults to max_seq_len-1")
	assert.Equal(t, 0.6, got.Temperature)
	assert.Equal(t, 0.9, got.TopP)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, providers.OpenAICompatMessage{Role: "user", Content: "hi there"}, got.Messages[0])
}

func TestGenerate_MaxGenLen(t *testing.T) {
	var got providers.OpenAICompatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"x"}}]}`))
	}, Config{})

	n := 32
	req := userRequest("hello")
	req.MaxGenLen = &n
	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 32, got.MaxTokens)
}

func TestGenerate_NullMessageYieldsNilGeneration(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":null}]}`))
	}, Config{})

	result, err := p.Generate(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Nil(t, result.Candidates[0].Generation)
}

func TestGenerate_EmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}, Config{})

	result, err := p.Generate(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestGenerate_ContextTooLong(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, Config{MaxSeqLen: 4})

	_, err := p.Generate(context.Background(), userRequest("one two three four"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrContextTooLong))
	assert.Equal(t, int32(0), calls.Load(), "request must not reach the backend")
}

func TestGenerate_EmptyRequest(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.Generate(context.Background(), &llm.GenerationRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode types.ErrorCode
	}{
		{name: "insufficient storage", status: http.StatusInsufficientStorage, body: "slot unavailable", wantCode: types.ErrResourceExhausted},
		{name: "500 cuda oom", status: 500, body: `{"error":{"message":"CUDA error: out of memory"}}`, wantCode: types.ErrResourceExhausted},
		{name: "500 allocation", status: 500, body: "ggml: failed to allocate buffer", wantCode: types.ErrResourceExhausted},
		{name: "500 generic", status: 500, body: "segfault", wantCode: types.ErrUpstreamError},
		{name: "unauthorized", status: 401, body: "no", wantCode: types.ErrUnauthorized},
		{name: "rate limited", status: 429, body: "slow down", wantCode: types.ErrRateLimited},
		{name: "context exceeded", status: 400, body: `{"error":{"message":"the request exceeds the available context size"}}`, wantCode: types.ErrContextTooLong},
		{name: "bad request", status: 400, body: "bad json", wantCode: types.ErrInvalidRequest},
		{name: "400 mentioning memory", status: 400, body: "out of memory", wantCode: types.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, Config{})

			_, err := p.Generate(context.Background(), userRequest("hello"))
			require.Error(t, err)
			llmErr, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.status, llmErr.HTTPStatus)
			assert.Equal(t, "llama", llmErr.Provider)
		})
	}
}

func TestGenerate_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	p := New(Config{BaseURL: url}, nil)
	_, err := p.Generate(context.Background(), userRequest("hello"))
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	assert.True(t, types.IsRetryable(err))
}

func TestGenerate_InvalidJSON(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}, Config{})

	_, err := p.Generate(context.Background(), userRequest("hello"))
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
}

func TestGenerate_CancelledWhileWaitingForSlot(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}, Config{MaxBatchSize: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Generate(context.Background(), userRequest("first"))
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Generate(ctx, userRequest("second"))
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout))

	close(release)
	<-done
}

// ---------------------------------------------------------------------------
// ClearCache / HealthCheck
// ---------------------------------------------------------------------------

func TestClearCache(t *testing.T) {
	var path, action string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		path = r.URL.Path
		action = r.URL.Query().Get("action")
		w.WriteHeader(http.StatusOK)
	}, Config{})

	p.ClearCache(context.Background())
	assert.Equal(t, "/slots/0", path)
	assert.Equal(t, "erase", action)
}

func TestClearCache_ErrorsSwallowed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	}, Config{})
	assert.NotPanics(t, func() { p.ClearCache(context.Background()) })

	unreachable := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	assert.NotPanics(t, func() { unreachable.ClearCache(context.Background()) })
}

func TestHealthCheck(t *testing.T) {
	var unhealthy atomic.Bool
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"loading model"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}, Config{})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	unhealthy.Store(true)
	status, err = p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
	assert.True(t, strings.Contains(status.Message, "loading model"))
}
