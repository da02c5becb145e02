package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors classifying upstream failures. The HTTP layer maps these
// to 504, 502 and 422 respectively.
var (
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamBadRequest  = errors.New("upstream rejected request")
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
)

const (
	retryBaseDelay = 250 * time.Millisecond
	rateLimitWait  = 2 * time.Second // stand-in for Retry-After, capped below 5 s
)

// Request is one chat completion against the proxy.
type Request struct {
	Model       string // proxy_model_string, opaque to this layer
	Messages    []openai.ChatCompletionMessage
	Tools       []openai.Tool
	Temperature float32
	MaxTokens   int
}

// Response is the normalized completion result.
type Response struct {
	Content      string
	Thinking     string
	ToolCalls    []openai.ToolCall
	TokensInput  int
	TokensOutput int
	FinishReason string
}

// Client talks to the OpenAI-compatible LLM proxy. Retry policy: one retry
// with jitter on 5xx and transport errors, one bounded wait on 429, no retry
// on other 4xx or on deadline expiry.
type Client struct {
	api   *openai.Client
	sleep func(context.Context, time.Duration) error
}

// NewClient builds a proxy client. baseURL points at the proxy's /v1 root.
func NewClient(baseURL, apiKey string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		sleep: sleepCtx,
	}
}

// Complete issues one chat completion, applying the retry policy. The
// caller's ctx deadline is the turn budget; expiry maps to ErrUpstreamTimeout.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		delay, retry := retryDelay(ctx, err)
		if !retry {
			return nil, classify(err)
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, classify(err)
		}
		resp, err = c.api.CreateChatCompletion(ctx, apiReq)
		if err != nil {
			return nil, classify(err)
		}
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choice list", ErrUpstreamUnavailable)
	}
	choice := resp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		Thinking:     choice.Message.ReasoningContent,
		ToolCalls:    choice.Message.ToolCalls,
		TokensInput:  resp.Usage.PromptTokens,
		TokensOutput: resp.Usage.CompletionTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// retryDelay decides whether an error is retried and after how long.
// Deadline expiry is never retried here; the engine owns fallback.
func retryDelay(ctx context.Context, err error) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	switch status := statusOf(err); {
	case status == 429:
		return rateLimitWait, true
	case status >= 500:
		return jittered(retryBaseDelay), true
	case status > 0:
		return 0, false
	case isTransport(err):
		return jittered(retryBaseDelay), true
	default:
		return 0, false
	}
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch status := statusOf(err); {
	case status == 429:
		return fmt.Errorf("%w: %v", ErrUpstreamRateLimited, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	case status >= 400:
		return fmt.Errorf("%w: %v", ErrUpstreamBadRequest, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func isTransport(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func jittered(base time.Duration) time.Duration {
	return base + time.Duration(rand.Int63n(int64(base/2)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
