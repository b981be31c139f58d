package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
	openai "github.com/hohoemi-rabo/prepfeed/internal/infra/openai"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	systemPrompt       = "あなたはコンテンツトレンドのアナリストです。入力データにある事実だけを根拠に、指定されたJSON形式のみで日本語で回答してください。"
)

var errMalformedJSON = errors.New("model returned malformed json")

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// JSONGenerator реализует domain.Generator поверх Chat Completions с повторами.
type JSONGenerator struct {
	client      chatCompletionClient
	model       string
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	log         zerolog.Logger
	onRetry     func(err error, delay time.Duration)
}

var _ domain.Generator = (*JSONGenerator)(nil)

// Option настраивает JSONGenerator.
type Option func(*JSONGenerator)

// WithBaseDelay задаёт первую задержку между попытками.
func WithBaseDelay(d time.Duration) Option {
	return func(g *JSONGenerator) { g.baseDelay = d }
}

// WithMaxAttempts задаёт общее число попыток.
func WithMaxAttempts(n int) Option {
	return func(g *JSONGenerator) { g.maxAttempts = n }
}

// New создаёт генератор.
func New(client chatCompletionClient, model string, timeout time.Duration, logger zerolog.Logger, opts ...Option) *JSONGenerator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	g := &JSONGenerator{
		client:      client,
		model:       model,
		timeout:     timeout,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		log:         logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxAttempts < 1 {
		g.maxAttempts = 1
	}
	return g
}

// GenerateJSON отправляет промпт и раскладывает JSON-ответ в out.
// Повторяет вызов при битом JSON, 429 и 503 с задержками base, 2*base.
func (g *JSONGenerator) GenerateJSON(ctx context.Context, prompt string, out any) error {
	attempt := 0
	op := func() error {
		attempt++
		err := g.generateOnce(ctx, prompt, out)
		if err == nil {
			return nil
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = g.baseDelay << g.maxAttempts
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, delay time.Duration) {
		metrics.LLMRetriesTotal.WithLabelValues(retryReason(err)).Inc()
		g.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("generator: повтор вызова модели")
		if g.onRetry != nil {
			g.onRetry(err, delay)
		}
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (g *JSONGenerator) generateOnce(ctx context.Context, prompt string, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: empty choices", errMalformedJSON)
	}
	content := stripFences(resp.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return errMalformedJSON
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v", errMalformedJSON, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, errMalformedJSON) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

func retryReason(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status_%d", apiErr.StatusCode)
	}
	return "malformed_json"
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrModelRateLimited, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrModel, err)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
