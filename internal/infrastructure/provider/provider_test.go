package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	appmetering "github.com/aimeter/backend/internal/application/metering"
	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCalculator() *metering.CostCalculator {
	return metering.NewCostCalculator(metering.PricingTable{
		OpenAI: {
			"gpt-4": {InputPricePer1K: decimal.RequireFromString("0.5"), OutputPricePer1K: decimal.RequireFromString("0.25")},
		},
		Anthropic: {
			"claude-3": {InputPricePer1K: decimal.RequireFromString("0.25"), OutputPricePer1K: decimal.RequireFromString("0.75")},
		},
	})
}

func respond(response any) metering.Operation {
	return func(ctx context.Context) (any, error) { return response, nil }
}

func assertTokens(t *testing.T, expected *int64, actual *int64) {
	t.Helper()
	if expected == nil {
		assert.Nil(t, actual)
		return
	}
	require.NotNil(t, actual)
	assert.Equal(t, *expected, *actual)
}

type sdkUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type sdkResponse struct {
	ID    string   `json:"id"`
	Usage sdkUsage `json:"usage"`
}

func TestOpenAIClient_ExtractUsage(t *testing.T) {
	tests := []struct {
		name     string
		response any
		in       *int64
		out      *int64
		total    *int64
	}{
		{
			name:     "snake case map",
			response: map[string]any{"usage": map[string]any{"prompt_tokens": 1000, "completion_tokens": 2000, "total_tokens": 3000}},
			in:       metering.Int64Ptr(1000),
			out:      metering.Int64Ptr(2000),
			total:    metering.Int64Ptr(3000),
		},
		{
			name:     "camel case raw json",
			response: []byte(`{"usage":{"promptTokens":10,"completionTokens":5,"totalTokens":15}}`),
			in:       metering.Int64Ptr(10),
			out:      metering.Int64Ptr(5),
			total:    metering.Int64Ptr(15),
		},
		{
			name:     "input output spelling",
			response: `{"usage":{"input_tokens":7,"output_tokens":3}}`,
			in:       metering.Int64Ptr(7),
			out:      metering.Int64Ptr(3),
		},
		{
			name:     "sdk struct",
			response: sdkResponse{ID: "chatcmpl-1", Usage: sdkUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}},
			in:       metering.Int64Ptr(1),
			out:      metering.Int64Ptr(2),
			total:    metering.Int64Ptr(3),
		},
		{
			name:     "raw message with total only",
			response: json.RawMessage(`{"usage":{"total_tokens":42}}`),
			total:    metering.Int64Ptr(42),
		},
		{name: "no usage", response: map[string]any{"id": "x"}},
		{name: "nil response", response: nil},
		{name: "malformed json", response: []byte(`{"usage":`)},
	}

	client := NewOpenAIClient("gpt-4", testCalculator())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := client.ExtractUsage(tt.response)
			assertTokens(t, tt.in, usage.InputTokens)
			assertTokens(t, tt.out, usage.OutputTokens)
			assertTokens(t, tt.total, usage.TotalTokens)
			assert.Equal(t, "usd", usage.Currency)
			require.NotNil(t, usage.TotalCost)
		})
	}
}

func TestOpenAIClient_Call(t *testing.T) {
	t.Run("prices both sides", func(t *testing.T) {
		client := NewOpenAIClient("gpt-4", testCalculator())
		response := map[string]any{"usage": map[string]any{"prompt_tokens": 1000, "completion_tokens": 2000, "total_tokens": 3000}}

		result, err := client.Call(context.Background(), respond(response))
		require.NoError(t, err)
		assert.Equal(t, response, result.Response)
		assert.True(t, result.Usage.InputCost.Equal(decimal.RequireFromString("0.5")))
		assert.True(t, result.Usage.OutputCost.Equal(decimal.RequireFromString("0.5")))
		assert.True(t, result.Usage.TotalCost.Equal(decimal.NewFromInt(1)))
	})

	t.Run("unknown model costs zero", func(t *testing.T) {
		client := NewOpenAIClient("gpt-99", testCalculator())
		result, err := client.Call(context.Background(), respond(`{"usage":{"prompt_tokens":1000,"completion_tokens":1000}}`))
		require.NoError(t, err)
		assert.True(t, result.Usage.TotalCost.IsZero())
	})

	t.Run("operation error is returned unchanged", func(t *testing.T) {
		boom := errors.New("rate limited")
		client := NewOpenAIClient("gpt-4", nil)
		_, err := client.Call(context.Background(), func(ctx context.Context) (any, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestAnthropicClient_Call(t *testing.T) {
	t.Run("derives total and prices", func(t *testing.T) {
		client := NewAnthropicClient("claude-3", testCalculator())
		response := map[string]any{"id": "msg_1", "usage": map[string]any{"input_tokens": 1000, "output_tokens": 1000}}

		result, err := client.Call(context.Background(), respond(response))
		require.NoError(t, err)
		assertTokens(t, metering.Int64Ptr(1000), result.Usage.InputTokens)
		assertTokens(t, metering.Int64Ptr(1000), result.Usage.OutputTokens)
		assertTokens(t, metering.Int64Ptr(2000), result.Usage.TotalTokens)
		assert.True(t, result.Usage.TotalCost.Equal(decimal.NewFromInt(1)))
	})

	t.Run("streaming message start envelope", func(t *testing.T) {
		client := NewAnthropicClient("claude-3", testCalculator())
		result, err := client.Call(context.Background(), respond(`{"type":"message_start","message":{"usage":{"input_tokens":12,"output_tokens":1}}}`))
		require.NoError(t, err)
		assertTokens(t, metering.Int64Ptr(13), result.Usage.TotalTokens)
	})

	t.Run("missing usage reports nil counts", func(t *testing.T) {
		client := NewAnthropicClient("claude-3", testCalculator())
		result, err := client.Call(context.Background(), respond(map[string]any{"id": "msg_2"}))
		require.NoError(t, err)
		assert.Nil(t, result.Usage.InputTokens)
		assert.Nil(t, result.Usage.TotalTokens)
		assert.Equal(t, int64(0), result.Usage.Tokens())
	})
}

func TestManualClient_Call(t *testing.T) {
	t.Run("reports preset usage", func(t *testing.T) {
		client := NewManualClient("in-house", nil)
		client.SetUsage(metering.ProviderUsage{
			TotalTokens: metering.Int64Ptr(50),
			TotalCost:   metering.DecimalPtr(decimal.RequireFromString("0.25")),
		})

		result, err := client.Call(context.Background(), respond("ok"))
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Response)
		assert.Equal(t, int64(50), result.Usage.Tokens())
		assert.Equal(t, "usd", result.Usage.Currency)
	})

	t.Run("empty usage without preset", func(t *testing.T) {
		client := NewManualClient("in-house", nil)
		result, err := client.Call(context.Background(), respond(nil))
		require.NoError(t, err)
		assert.Nil(t, result.Usage.TotalTokens)
		assert.False(t, result.Usage.HasCost())
	})
}

func TestRegister(t *testing.T) {
	registry := appmetering.NewProviderRegistry(testCalculator())
	Register(registry)

	assert.Equal(t, []string{Anthropic, Manual, OpenAI}, registry.Names())

	client, err := registry.Resolve(Manual, "any")
	require.NoError(t, err)
	_, ok := client.(metering.UsagePresetter)
	assert.True(t, ok)

	client, err = registry.Resolve(OpenAI, "gpt-4")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)
}
