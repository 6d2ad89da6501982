package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) Client {
	return NewClient("test-key", WithBaseURL(baseURL), WithMaxRetries(0))
}

func messageJSON(text string) map[string]any {
	return map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  42,
			"output_tokens": 7,
		},
	}
}

func TestCreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
		assert.EqualValues(t, 64, body["max_tokens"])
		assert.NotNil(t, body["system"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON("Apple iPhone 13 128GB")) //nolint:errcheck
	}))
	defer ts.Close()

	temp := 0.0
	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   64,
		System:      []SystemBlock{{Text: "Extract the model name."}},
		Messages:    []Message{{Role: "user", Content: "Apple iPhone 13 128GB Ricondizionato"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "Apple iPhone 13 128GB", resp.Text())
	assert.Equal(t, int64(42), resp.Usage.InputTokens)
	assert.Equal(t, int64(7), resp.Usage.OutputTokens)
}

func TestCreateMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "Internal server error"},
		})
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 64,
		Messages:  []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.True(t, IsRetryable(err))
}

func TestMessageResponse_Text(t *testing.T) {
	r := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "Steam Deck "},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "OLED"},
	}}
	assert.Equal(t, "Steam Deck OLED", r.Text())

	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())
}

func TestFromSDKMessage(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{
		ID:         "msg_1",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "max_tokens",
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "DJI Mini 3"}},
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 3, CacheReadInputTokens: 5},
	})
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.True(t, resp.Truncated())
	assert.Equal(t, "DJI Mini 3", resp.Text())
	assert.Equal(t, int64(5), resp.Usage.CacheReadInputTokens)
}

func TestToSDKMessages(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
		{Role: "other", Content: "defaults to user"},
	})
	require.Len(t, msgs, 3)
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "plain"},
		{Text: "cached", Cached: true},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "plain", blocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralParam{}, blocks[0].CacheControl)
	assert.Equal(t, "cached", blocks[1].Text)
	assert.Equal(t, sdk.NewCacheControlEphemeralParam(), blocks[1].CacheControl)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&sdk.Error{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &sdk.Error{StatusCode: 529})))
	assert.False(t, IsRetryable(&sdk.Error{StatusCode: http.StatusBadRequest}))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, IsRetryable(nil))
}

func TestMessageResponse_Truncated(t *testing.T) {
	var nilResp *MessageResponse
	assert.False(t, nilResp.Truncated())
	assert.False(t, (&MessageResponse{StopReason: "end_turn"}).Truncated())
}

func TestEstimateCost(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 4.80, usage.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
	assert.InDelta(t, 18.00, usage.EstimateCost("claude-sonnet-4-5-20250929"), 0.001)
	assert.Equal(t, 0.0, usage.EstimateCost("unknown-model"))

	cached := TokenUsage{
		InputTokens:              500_000,
		OutputTokens:             100_000,
		CacheCreationInputTokens: 200_000,
		CacheReadInputTokens:     300_000,
	}
	// 0.40 in + 0.40 out + 0.20 cache write + 0.024 cache read
	assert.InDelta(t, 1.024, cached.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 100, OutputTokens: 50}.LogCost("claude-haiku-4-5-20251001", "normalize")
		TokenUsage{}.LogCost("unknown-model", "")
	})
}
