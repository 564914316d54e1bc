package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/stream-embed-audit/internal/metrics"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// TokenSource supplies the bearer token attached to each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config controls the transport.
type Config struct {
	// BaseURL prefixes relative paths (default: DefaultBaseURL).
	BaseURL string
	// Timeout for individual requests (default: 60s).
	Timeout time.Duration
	// RateLimit requests per second; zero disables pacing.
	RateLimit float64
	// RateBurst maximum burst size (default: 1).
	RateBurst int
	// UserAgent header value.
	UserAgent string
	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// Client issues authenticated GET requests and normalizes the JSON bodies.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient builds a Client. A nil TokenSource sends unauthenticated requests.
func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "stream-embed-audit/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: limiter,
		tokens:  tokens,
		logger:  logger,
	}
}

// GetJSON performs a GET on path and returns the normalized body. Absolute
// URLs (continuation links) are requested verbatim.
func (c *Client) GetJSON(ctx context.Context, path string) (*Response, error) {
	resp, err := c.get(ctx, path)
	if err != nil {
		metrics.ObserveRequest(KindOf(err).String())
		return nil, err
	}
	metrics.ObserveRequest("success")
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Path: path, Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &Error{Kind: KindAuthExpired, Path: path, Message: "acquire token", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("graph request %s: %w", path, err)
		}
		return nil, &Error{Kind: KindTransport, Path: path, Message: "http request", Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Path: path, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := classifyResponse(path, resp.StatusCode, resp.Header, body)
		c.logger.Debug("Graph request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Stringer("kind", gerr.Kind),
			zap.String("code", gerr.Code),
		)
		return nil, gerr
	}

	return parseResponse(path, body)
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path
	}
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
