// Package provider extracts token usage from AI provider responses and
// prices it. Responses are accepted as raw JSON, decoded maps or SDK
// structs; anything that serializes to the provider's JSON shape works.
package provider

import (
	"encoding/json"

	"github.com/aimeter/backend/internal/domain/metering"
)

// Provider names registered by Register
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Manual    = "manual"
)

// tokenCounts is the union of usage field spellings seen across SDKs
type tokenCounts struct {
	PromptTokens     *int64 `json:"prompt_tokens"`
	PromptTokensC    *int64 `json:"promptTokens"`
	InputTokens      *int64 `json:"input_tokens"`
	InputTokensC     *int64 `json:"inputTokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	CompletionC      *int64 `json:"completionTokens"`
	OutputTokens     *int64 `json:"output_tokens"`
	OutputTokensC    *int64 `json:"outputTokens"`
	TotalTokens      *int64 `json:"total_tokens"`
	TotalTokensC     *int64 `json:"totalTokens"`
}

func (c tokenCounts) input() *int64 {
	return firstSet(c.PromptTokens, c.PromptTokensC, c.InputTokens, c.InputTokensC)
}

func (c tokenCounts) output() *int64 {
	return firstSet(c.CompletionTokens, c.CompletionC, c.OutputTokens, c.OutputTokensC)
}

func (c tokenCounts) total() *int64 {
	return firstSet(c.TotalTokens, c.TotalTokensC)
}

func firstSet(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// extractCounts finds the "usage" object of a response. ok is false when
// the response carries no usage, which is not an error.
func extractCounts(response any) (tokenCounts, bool) {
	raw, ok := toJSON(response)
	if !ok {
		return tokenCounts{}, false
	}

	var envelope struct {
		Usage   *tokenCounts `json:"usage"`
		UsageC  *tokenCounts `json:"Usage"`
		Message *struct {
			Usage *tokenCounts `json:"usage"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return tokenCounts{}, false
	}
	switch {
	case envelope.Usage != nil:
		return *envelope.Usage, true
	case envelope.UsageC != nil:
		return *envelope.UsageC, true
	case envelope.Message != nil && envelope.Message.Usage != nil:
		return *envelope.Message.Usage, true
	}
	return tokenCounts{}, false
}

func toJSON(response any) ([]byte, bool) {
	switch v := response.(type) {
	case nil:
		return nil, false
	case []byte:
		return v, len(v) > 0
	case json.RawMessage:
		return v, len(v) > 0
	case string:
		return []byte(v), v != ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return raw, true
	}
}

// pricedUsage builds a ProviderUsage with costs from the calculator
func pricedUsage(costs *metering.CostCalculator, provider, model string, in, out, total *int64) metering.ProviderUsage {
	usage := metering.ProviderUsage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		Currency:     metering.DefaultCurrency,
	}
	return usage.WithCosts(costs.Calculate(provider, model, in, out, total))
}
