// Package fetch wraps outbound page requests with URL repair, bounded
// retries, terminal status handling and a per-host circuit breaker.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
)

const maxBodySize = 5 << 20

// terminalStatuses are never retried
var terminalStatuses = map[int]bool{
	http.StatusNotFound:           true,
	http.StatusForbidden:          true,
	http.StatusNotAcceptable:      true,
	http.StatusGone:               true,
	http.StatusServiceUnavailable: true,
}

// IsTerminalStatus reports whether code ends a fetch without retrying
func IsTerminalStatus(code int) bool {
	return terminalStatuses[code]
}

// StatusError is returned for non-success HTTP responses
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GET %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Response is a fully read HTTP response
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Options override the client defaults for one request
type Options struct {
	MaxRetries int
	Timeout    time.Duration
	// Quiet logs expected failures at debug level only
	Quiet bool
}

// ClientConfig configures a Client
type ClientConfig struct {
	UserAgent        string
	Timeout          time.Duration
	MaxRetries       int
	BackoffUnit      time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
}

// Client performs GET requests with retry and circuit breaking
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	breakers   *hostBreakers
	metrics    *observability.Metrics
	logger     *observability.StructuredLogger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a fetch client. metrics may be nil.
func NewClient(cfg ClientConfig, metrics *observability.Metrics) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		breakers:   newHostBreakers(cfg.FailureThreshold, cfg.OpenDuration),
		metrics:    metrics,
		logger:     observability.NewStructuredLogger("fetch"),
		sleep:      Sleep,
	}
}

// NewClientFromConfig builds a client from the collector section of cfg
func NewClientFromConfig(cfg *config.Config, metrics *observability.Metrics) *Client {
	return NewClient(ClientConfig{
		UserAgent:        cfg.Collector.UserAgent,
		Timeout:          config.Duration(cfg.Collector.RequestTimeout),
		MaxRetries:       cfg.Collector.MaxRetries,
		BackoffUnit:      config.Duration(cfg.Collector.BackoffUnit),
		FailureThreshold: cfg.Collector.CircuitFailureThreshold,
		OpenDuration:     config.Duration(cfg.Collector.CircuitOpenDuration),
	}, metrics)
}

// NormalizeURL repairs a scraped link. Empty input and bare relative
// paths yield "", "//host" gains https and a missing scheme is added.
func NormalizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	if strings.HasPrefix(raw, "/") {
		return ""
	}
	return "https://" + raw
}

// ExtractDomain returns the host of rawURL or "unknown"
func ExtractDomain(rawURL string) string {
	return domain.DomainOf(rawURL)
}

// Get fetches rawURL. On failure it returns a nil response and an error
// wrapping ErrInvalidURL, ErrTerminalStatus, ErrRateLimited or ErrCircuitOpen.
func (c *Client) Get(ctx context.Context, rawURL string, opts *Options) (*Response, error) {
	target := NormalizeURL(rawURL)
	if target == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidURL, rawURL)
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidURL, rawURL)
	}

	maxRetries := c.cfg.MaxRetries
	timeout := c.cfg.Timeout
	quiet := false
	if opts != nil {
		if opts.MaxRetries > 0 {
			maxRetries = opts.MaxRetries
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		quiet = opts.Quiet
	}

	breaker := c.breakers.get(parsed.Host)
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if !breaker.CanExecute() {
			return nil, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, parsed.Host)
		}

		resp, err := c.do(ctx, target, timeout)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if err != nil {
			c.recordFetch(ctx, 0)
			breaker.RecordFailure()
			lastErr = err
			c.logFailure(ctx, quiet, "fetch attempt failed", target, attempt, err)
		} else {
			c.recordFetch(ctx, resp.StatusCode)
			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				breaker.RecordSuccess()
				return resp, nil
			case IsTerminalStatus(resp.StatusCode):
				if resp.StatusCode >= 500 {
					breaker.RecordFailure()
				}
				statusErr := &StatusError{URL: target, StatusCode: resp.StatusCode, Body: resp.Body, Err: domain.ErrTerminalStatus}
				c.logFailure(ctx, true, "terminal status", target, attempt, statusErr)
				return nil, statusErr
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, &StatusError{URL: target, StatusCode: resp.StatusCode, Body: resp.Body, Err: domain.ErrRateLimited}
			default:
				if resp.StatusCode >= 500 {
					breaker.RecordFailure()
				}
				lastErr = &StatusError{URL: target, StatusCode: resp.StatusCode, Body: resp.Body}
				c.logFailure(ctx, quiet, "unexpected status", target, attempt, lastErr)
			}
		}

		if attempt < maxRetries {
			if err := c.sleep(ctx, time.Duration(attempt)*c.cfg.BackoffUnit); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("GET %s failed after %d attempts: %w", target, maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, target string, timeout time.Duration) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.9,en;q=0.8")
	req.Header.Set("DNT", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) recordFetch(ctx context.Context, status int) {
	if c.metrics != nil {
		c.metrics.RecordFetch(ctx, status)
	}
}

func (c *Client) logFailure(ctx context.Context, quiet bool, msg, target string, attempt int, err error) {
	attrs := map[string]interface{}{
		"url":     target,
		"attempt": attempt,
		"error":   err.Error(),
	}
	if quiet {
		c.logger.Debug(ctx, msg, attrs)
		return
	}
	c.logger.Warn(ctx, msg, attrs)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
