package conversation

import (
	"fmt"
	"strings"
)

// Policy 决定用户输入如何进入提交给后端的轮次序列.
type Policy string

const (
	// PolicyPlain 追加原始用户输入并提交完整历史.
	PolicyPlain Policy = "plain"
	// PolicyDirective 提交带摘要指令的临时轮次，不持久化指令文本.
	PolicyDirective Policy = "directive"
)

// PruneTrigger 决定何时运行裁剪.
type PruneTrigger string

const (
	// TriggerThreshold 仅当轮次数超过 HistorySizeThreshold 时裁剪.
	TriggerThreshold PruneTrigger = "threshold"
	// TriggerAlways 每个成功的对话周期后都裁剪.
	TriggerAlways PruneTrigger = "always"
)

const (
	DefaultTemperature          = 0.6
	DefaultTopP                 = 0.9
	DefaultTokenLimit           = 1000
	DefaultHistorySizeThreshold = 850
)

// Config 是会话级参数，构造后不再修改.
type Config struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p"`
	// MaxGenLen 为 nil 时不限制（交给后端默认值）。
	MaxGenLen            *int         `json:"max_gen_len,omitempty" yaml:"max_gen_len"`
	TokenLimit           int          `json:"token_limit" yaml:"token_limit"`
	HistorySizeThreshold int          `json:"history_size_threshold" yaml:"history_size_threshold"`
	Policy               Policy       `json:"policy" yaml:"policy"`
	PruneTrigger         PruneTrigger `json:"prune_trigger,omitempty" yaml:"prune_trigger"`
}

// DefaultConfig 返回默认会话配置.
func DefaultConfig() Config {
	return Config{
		Temperature:          DefaultTemperature,
		TopP:                 DefaultTopP,
		TokenLimit:           DefaultTokenLimit,
		HistorySizeThreshold: DefaultHistorySizeThreshold,
		Policy:               PolicyPlain,
		PruneTrigger:         TriggerThreshold,
	}
}

// DefaultTrigger 返回策略对应的默认裁剪时机：plain 按阈值，directive 每轮.
func DefaultTrigger(p Policy) PruneTrigger {
	if p == PolicyDirective {
		return TriggerAlways
	}
	return TriggerThreshold
}

// WithDefaults 填充零值字段. 不覆盖已显式设置的值。
func (c Config) WithDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyPlain
	}
	if c.PruneTrigger == "" {
		c.PruneTrigger = DefaultTrigger(c.Policy)
	}
	if c.HistorySizeThreshold == 0 {
		c.HistorySizeThreshold = DefaultHistorySizeThreshold
	}
	return c
}

// Validate 校验配置取值范围.
func (c Config) Validate() error {
	var errs []string

	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	if c.TopP <= 0 || c.TopP > 1 {
		errs = append(errs, "top_p must be in (0, 1]")
	}
	if c.MaxGenLen != nil && *c.MaxGenLen <= 0 {
		errs = append(errs, "max_gen_len must be positive when set")
	}
	if c.TokenLimit <= 0 {
		errs = append(errs, "token_limit must be positive")
	}
	if c.HistorySizeThreshold <= 0 {
		errs = append(errs, "history_size_threshold must be positive")
	}
	switch c.Policy {
	case PolicyPlain, PolicyDirective:
	default:
		errs = append(errs, fmt.Sprintf("unknown policy: %q", c.Policy))
	}
	switch c.PruneTrigger {
	case TriggerThreshold, TriggerAlways:
	default:
		errs = append(errs, fmt.Sprintf("unknown prune trigger: %q", c.PruneTrigger))
	}

	if len(errs) > 0 {
		return fmt.Errorf("conversation config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
