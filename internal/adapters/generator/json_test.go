package generator

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	openai "github.com/hohoemi-rabo/prepfeed/internal/infra/openai"
)

type scriptedClient struct {
	replies []func() (openai.ChatCompletionResponse, error)
	calls   int
}

func (c *scriptedClient) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	idx := c.calls
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	c.calls++
	return c.replies[idx]()
}

func content(s string) func() (openai.ChatCompletionResponse, error) {
	return func() (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: s}}}}, nil
	}
}

func status(code int) func() (openai.ChatCompletionResponse, error) {
	return func() (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{}, &openai.APIError{StatusCode: code}
	}
}

func newTestGenerator(client chatCompletionClient, delays *[]time.Duration) *JSONGenerator {
	g := New(client, "gemini-2.5-flash", time.Second, zerolog.Nop(), WithBaseDelay(time.Millisecond))
	g.onRetry = func(_ error, d time.Duration) { *delays = append(*delays, d) }
	return g
}

func TestGenerateJSONRetriesMalformedThreeTimes(t *testing.T) {
	client := &scriptedClient{replies: []func() (openai.ChatCompletionResponse, error){content("not json")}}
	var delays []time.Duration
	g := newTestGenerator(client, &delays)

	var out map[string]any
	err := g.GenerateJSON(context.Background(), "prompt", &out)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModel)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestGenerateJSONDefaultDelays(t *testing.T) {
	g := New(&scriptedClient{}, "m", 0, zerolog.Nop())
	assert.Equal(t, time.Second, g.baseDelay)
	assert.Equal(t, 3, g.maxAttempts)
}

func TestGenerateJSONRecoversAfterRateLimit(t *testing.T) {
	client := &scriptedClient{replies: []func() (openai.ChatCompletionResponse, error){
		status(http.StatusTooManyRequests),
		status(http.StatusServiceUnavailable),
		content("```json\n{\"trend_score\": 42}\n```"),
	}}
	var delays []time.Duration
	g := newTestGenerator(client, &delays)

	var out struct {
		TrendScore int `json:"trend_score"`
	}
	require.NoError(t, g.GenerateJSON(context.Background(), "prompt", &out))
	assert.Equal(t, 42, out.TrendScore)
	assert.Equal(t, 3, client.calls)
}

func TestGenerateJSONDoesNotRetryOtherStatuses(t *testing.T) {
	client := &scriptedClient{replies: []func() (openai.ChatCompletionResponse, error){status(http.StatusBadRequest)}}
	var delays []time.Duration
	g := newTestGenerator(client, &delays)

	var out map[string]any
	err := g.GenerateJSON(context.Background(), "prompt", &out)

	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, delays)
	var apiErr *openai.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestGenerateJSONExhaustedRateLimit(t *testing.T) {
	client := &scriptedClient{replies: []func() (openai.ChatCompletionResponse, error){status(http.StatusTooManyRequests)}}
	var delays []time.Duration
	g := newTestGenerator(client, &delays)

	var out map[string]any
	err := g.GenerateJSON(context.Background(), "prompt", &out)

	assert.ErrorIs(t, err, domain.ErrModelRateLimited)
	assert.Equal(t, 3, client.calls)
}
