package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TiktokenCounter 使用 tiktoken 编码计数.
// 编码在第一次使用时懒加载（可能需要下载数据），加载失败时回退到 WordCounter。
type TiktokenCounter struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback WordCounter
	logger   *zap.Logger
}

// modelEncodings 将模型名前缀映射到 tiktoken 编码.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
	"llama-3":       "cl100k_base",
}

// NewTiktokenCounter 为给定模型创建计数器. 未知模型使用 cl100k_base.
func NewTiktokenCounter(model string, logger *zap.Logger) *TiktokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoding := "cl100k_base"
	if e, ok := modelEncodings[model]; ok {
		encoding = e
	} else {
		// 最长前缀优先（"gpt-4o-mini" 应匹配 "gpt-4o" 而不是 "gpt-4"）
		best := 0
		for prefix, e := range modelEncodings {
			if len(prefix) > best && strings.HasPrefix(model, prefix) {
				encoding = e
				best = len(prefix)
			}
		}
	}
	return &TiktokenCounter{
		model:    model,
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tiktoken_counter")),
	}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, falling back to word count", zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenCounter) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
