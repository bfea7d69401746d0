package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/llamachat/config"
	"github.com/BaSui01/llamachat/internal/metrics"
	"github.com/BaSui01/llamachat/session"
)

var collectorSeq atomic.Int32

// newTestCollector 每次使用不同的命名空间，避免重复注册
func newTestCollector() *metrics.Collector {
	return metrics.NewCollector(fmt.Sprintf("test_app_%d", collectorSeq.Add(1)), zap.NewNop())
}

// fakeBackend 模拟 OpenAI 兼容的 llama 推理服务
func fakeBackend(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": "llama",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.LLM.BaseURL = backendURL
	cfg.Database.Name = filepath.Join(t.TempDir(), "sessions.db")
	return cfg
}

func checkNames(a *app) []string {
	names := make([]string, 0, len(a.checks))
	for _, c := range a.checks {
		names = append(names, c.Name())
	}
	return names
}

func TestBuildApp_Stores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		store      string
		wantChecks []string
		wantTiered bool
	}{
		{store: config.StoreMemory, wantChecks: []string{"llm"}},
		{store: config.StoreRedis, wantChecks: []string{"llm", "redis"}},
		{store: config.StoreDatabase, wantChecks: []string{"llm", "database"}},
		{store: config.StoreTiered, wantChecks: []string{"llm", "redis", "database"}, wantTiered: true},
	}

	for _, tt := range tests {
		t.Run(tt.store, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, "http://127.0.0.1:1")
			cfg.Session.Store = tt.store
			cfg.Redis.Addr = mr.Addr()

			a, err := buildApp(ctx, cfg, zaptest.NewLogger(t), newTestCollector())
			require.NoError(t, err)
			defer a.Close()

			assert.Equal(t, tt.wantChecks, checkNames(a))
			assert.Equal(t, tt.wantTiered, a.tiered != nil)

			s, err := a.registry.Create(ctx, nil)
			require.NoError(t, err)
			got, err := a.registry.Get(ctx, s.ID())
			require.NoError(t, err)
			assert.Equal(t, s.ID(), got.ID())
		})
	}
}

func TestBuildApp_Errors(t *testing.T) {
	t.Run("unknown store", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1")
		cfg.Session.Store = "etcd"
		_, err := buildApp(context.Background(), cfg, zap.NewNop(), newTestCollector())
		assert.Error(t, err)
	})

	t.Run("unknown tokenizer", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1")
		cfg.Session.Tokenizer = "bpe"
		_, err := buildApp(context.Background(), cfg, zap.NewNop(), newTestCollector())
		assert.Error(t, err)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig(t, "http://127.0.0.1:1")
		cfg.Session.Store = config.StoreRedis
		cfg.Redis.Addr = addr
		_, err := buildApp(context.Background(), cfg, zap.NewNop(), newTestCollector())
		assert.Error(t, err)
	})
}

func TestBuildApp_DefaultsStayWithinContextWindow(t *testing.T) {
	ctx := context.Background()
	backend := fakeBackend(t, strings.TrimSpace(strings.Repeat("word ", 120)))
	cfg := testConfig(t, backend.URL)
	require.NoError(t, cfg.Validate())

	a, err := buildApp(ctx, cfg, zaptest.NewLogger(t), newTestCollector())
	require.NoError(t, err)
	defer a.Close()

	s, err := a.registry.Create(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		res := s.Chat(ctx, fmt.Sprintf("question number %d", i))
		require.False(t, res.IsError, "turn %d: %s", i, res.Reply)
		assert.LessOrEqual(t, res.Tokens, cfg.Session.TokenLimit)
	}

	big := cfg.LLM.MaxSeqLen
	_, err = a.registry.Create(ctx, &session.Overrides{TokenLimit: &big})
	assert.Error(t, err)
}

func TestServer_Handler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := fakeBackend(t, "Paris. In summary, the capital is Paris.")
	cfg := testConfig(t, backend.URL)
	a, err := buildApp(ctx, cfg, zaptest.NewLogger(t), newTestCollector())
	require.NoError(t, err)
	defer a.Close()

	api := httptest.NewServer(NewServer(a, "", zap.NewAtomicLevel()).Handler(ctx))
	defer api.Close()

	resp, err := http.Get(api.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(api.URL+"/api/v1/sessions", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.Data.ID)

	resp, err = http.Post(api.URL+"/api/v1/sessions/"+created.Data.ID+"/chat", "application/json",
		strings.NewReader(`{"message":"What is the capital of France?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chat struct {
		Data struct {
			Reply string `json:"reply"`
			Error bool   `json:"error"`
			Turns int    `json:"turns"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, "Paris. In summary, the capital is Paris.", chat.Data.Reply)
	assert.False(t, chat.Data.Error)
	assert.Equal(t, 2, chat.Data.Turns)

	history := a.registry.List()
	require.Len(t, history, 1)
}

func TestServer_ReadyFailsWhenBackendDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, testConfig(t, "http://127.0.0.1:1"), zap.NewNop(), newTestCollector())
	require.NoError(t, err)
	defer a.Close()

	w := httptest.NewRecorder()
	NewServer(a, "", zap.NewAtomicLevel()).Handler(ctx).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
