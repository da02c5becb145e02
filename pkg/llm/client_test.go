package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/v1", "test-key")
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, &calls
}

func completionBody(t *testing.T, msg openai.ChatCompletionMessage) []byte {
	t.Helper()
	body, err := json.Marshal(openai.ChatCompletionResponse{
		ID:      "cmpl-1",
		Object:  "chat.completion",
		Model:   "test",
		Choices: []openai.ChatCompletionChoice{{Message: msg, FinishReason: openai.FinishReasonStop}},
		Usage:   openai.Usage{PromptTokens: 12, CompletionTokens: 7},
	})
	require.NoError(t, err)
	return body
}

func TestCompleteSuccess(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: "hello",
		}))
	})

	resp, err := c.Complete(context.Background(), Request{Model: "m", Messages: []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "hi"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 12, resp.TokensInput)
	assert.Equal(t, 7, resp.TokensOutput)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteReturnsToolCalls(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "calc_add", Arguments: `{"a":2,"b":2}`},
			}},
		}))
	})

	resp, err := c.Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "calc_add", resp.ToolCalls[0].Function.Name)
}

func TestCompleteRetriesOn5xx(t *testing.T) {
	var served atomic.Int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, openai.ChatCompletionMessage{Content: "recovered"}))
	})

	resp, err := c.Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteSingleRetryThenUnavailable(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"down"}}`, http.StatusServiceUnavailable)
	})

	_, err := c.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteNoRetryOn4xx(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad model"}}`, http.StatusBadRequest)
	})

	_, err := c.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrUpstreamBadRequest)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteRateLimitRetriedOnce(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests)
	})

	_, err := c.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrUpstreamRateLimited)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteDeadlineMapsToTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(completionBody(t, openai.ChatCompletionMessage{Content: "late"}))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, Request{Model: "m"})
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}
