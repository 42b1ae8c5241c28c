package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Context window sizes by model family, conservative estimates. Keys are
// matched by prefix after the provider segment is stripped.
var modelContextLimits = map[string]int{
	"gpt-4o":        128000,
	"gpt-4o-mini":   128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
	"o1":            200000,
	"o3":            200000,
	"claude":        200000,
	"gemini":        1000000,
	"deepseek":      64000,
	"qwen":          128000,
}

const defaultContextLimit = 32000

// ContextLimit returns the context window size for a model, falling back
// to a conservative default for unknown families.
func ContextLimit(model string) int {
	name := strings.ToLower(NormalizeModelName(model))
	if limit, ok := modelContextLimits[name]; ok {
		return limit
	}
	// Longest-prefix match so gpt-4o wins over gpt-4.
	best := 0
	limit := defaultContextLimit
	for key, v := range modelContextLimits {
		if strings.HasPrefix(name, key) && len(key) > best {
			best = len(key)
			limit = v
		}
	}
	return limit
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text using the cl100k_base
// encoding, which is close enough for budget checks across model families.
// Falls back to a runes/4 heuristic if the encoding is unavailable.
func CountTokens(model, text string) int {
	_ = model // all supported families are near cl100k density
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	estimate := len([]rune(text)) / 4
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
