package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/utils"
)

const (
	contentType = "application/json"
	maxLogBody  = 500
)

// Response is a fully read CRM reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) String() string {
	return fmt.Sprintf("%d %s", r.StatusCode, utils.TruncateForLog(string(r.Body), maxLogBody))
}

// request sends one logical call. The outcomes are:
//   - a response with any status other than 429 (and other than the first 401);
//   - ErrRequestFailed after MaxAttempts network errors;
//   - ErrRateLimited once the 429 budget is spent;
//   - ErrCircuitOpen while the breaker is open;
//   - the context error when ctx is done during a wait.
func (c *Client) request(ctx context.Context, method, path string, payload any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", path, err)
		}
		c.logger.Debug("crm payload", zap.String("method", method), zap.String("path", path), zap.ByteString("payload", body))
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.APIURL + path
	}

	var (
		attempt     = 1
		refreshed   bool
		rateLimited int
		waited      time.Duration
	)

	for {
		resp, err := c.do(ctx, method, url, body)

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%w: %s %s", ErrCircuitOpen, method, path)

		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			c.logger.Warn("crm request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Error(err),
			)

			if attempt >= c.cfg.MaxAttempts {
				return nil, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrRequestFailed, method, path, attempt, err)
			}

			c.metrics.CRMRetry("network")
			if err := c.wait(ctx, c.cfg.Backoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
			attempt++

		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			refreshed = true
			c.metrics.CRMRetry("unauthorized")
			c.logger.Info("crm token rejected, refreshing", zap.String("path", path))
			c.refreshToken(ctx)

		case resp.StatusCode == http.StatusTooManyRequests:
			d := retryAfter(resp.Header, c.cfg.RateLimit.DefaultWait)
			if rateLimited >= c.cfg.RateLimit.MaxRetries || waited+d > c.cfg.RateLimit.MaxTotalWait {
				return nil, fmt.Errorf("%w: %s %s after %d retries and %s", ErrRateLimited, method, path, rateLimited, waited)
			}

			rateLimited++
			waited += d
			c.metrics.CRMRetry("rate_limited")
			c.logger.Warn("crm rate limit reached, waiting",
				zap.String("path", path),
				zap.Duration("retry_after", d),
				zap.Int("retry", rateLimited),
			)

			if err := c.wait(ctx, d); err != nil {
				return nil, err
			}

		default:
			return resp, nil
		}
	}
}

// do performs a single round trip through the circuit breaker. Only
// network errors count as breaker failures.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	return c.breaker.Execute(func() (*Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}

		req = c.setHeaders(req)
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}

		c.logger.Debug("make request", zap.String("method", method), zap.String("url", url))

		httpResp, err := c.HTTPClient.Do(req)
		if err != nil {
			c.metrics.CRMRequest(method, 0)
			return nil, err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			c.metrics.CRMRequest(method, 0)
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		c.metrics.CRMRequest(method, httpResp.StatusCode)

		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       data,
		}, nil
	})
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.creds.AccessToken))
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)

	return req
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	resp, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status for %s: %s", path, resp)
	}

	if err := json.Unmarshal(resp.Body, target); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	return nil
}

type Item map[string]any

type page struct {
	Embedded map[string][]Item `json:"_embedded"`
	Links    struct {
		Next struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
}

// GetItems collects the embedded key from every page, following _links.next.
func (c *Client) GetItems(ctx context.Context, path, key string) ([]Item, error) {
	var items []Item

	seen := make(map[string]bool)
	next := path
	for next != "" && !seen[next] {
		seen[next] = true

		var p page
		if err := c.getJSON(ctx, next, &p); err != nil {
			return nil, err
		}

		items = append(items, p.Embedded[key]...)

		next = p.Links.Next.Href
		if next != "" {
			c.logger.Debug("additional request needed", zap.String("next", next))
		}
	}

	return items, nil
}

// decodeItems maps loosely typed items onto typed structs.
func decodeItems(items []Item, target any) error {
	return mapstructure.Decode(items, target)
}
