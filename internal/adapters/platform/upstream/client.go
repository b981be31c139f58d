package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/ratelimit"
)

// Client общий HTTP-клиент площадок: заголовки, таймауты, ограничение частоты
// и перевод HTTP статусов в доменные ошибки.
type Client struct {
	http     *resty.Client
	platform domain.Platform
	limiter  ratelimit.Limiter
}

// Option настраивает Client.
type Option func(*Client)

// WithBearer добавляет токен авторизации, если он задан.
func WithBearer(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithUserAgent задаёт User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.http.SetHeader("User-Agent", ua) }
}

// WithLimiter пропускает каждый запрос через ограничитель.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New создаёт клиента площадки.
func New(platform domain.Platform, baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	c := &Client{http: r, platform: platform}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON выполняет GET и декодирует тело в out.
// 404 → domain.ErrNotFound, 429 → domain.ErrRateLimited, неразборчивое тело → domain.ErrSchemaChanged.
func (c *Client) GetJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(path)
	if err != nil {
		metrics.ObserveNetworkRequest(string(c.platform), op, path, start, err)
		return fmt.Errorf("%s: %s: %w", c.platform, op, err)
	}
	err = c.checkStatus(resp)
	metrics.ObserveNetworkRequest(string(c.platform), op, "", start, err)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", c.platform, op, err)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return SchemaError(c.platform, op, err)
	}
	return nil
}

func (c *Client) checkStatus(resp *resty.Response) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case code >= 400:
		return &domain.UpstreamError{Platform: c.platform, Status: code, Message: snippet(resp.String())}
	}
	return nil
}

// SchemaError оборачивает несоответствие ответа ожидаемой схеме.
func SchemaError(p domain.Platform, op string, cause error) error {
	return fmt.Errorf("%s: %s: %w: %v", p, op, domain.ErrSchemaChanged, cause)
}

const snippetBytes = 200

// snippet обрезает тело ответа по границе символа.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= snippetBytes {
		return s
	}
	cut := snippetBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Cap ограничивает запрошенное количество практическим максимумом площадки.
func Cap(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}
