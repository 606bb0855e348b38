package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

var (
	// ErrEmptyBody marks a 2xx response without a body.
	ErrEmptyBody = errors.New("empty response body")
	// ErrDecode marks a 2xx response whose body is not the expected JSON.
	ErrDecode = errors.New("malformed response body")
)

// StatusError is attached as the cause of every non-2xx response so callers can
// classify upstream failures by status and body.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.StatusCode)
}

// AsStatus extracts the upstream status error from err, if any.
func AsStatus(err error) (*StatusError, bool) {
	var target *StatusError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	limiter    *rate.Limiter
}

type Option func(*Client)

// WithRateLimit caps outbound requests per second. Zero or negative disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func New(timeout time.Duration, retries int, opts ...Option) *Client {
	if retries < 0 {
		retries = 0
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "xquotes/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "wait for rate limiter", err)
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read provider response", readErr)
		}
		status := &StatusError{StatusCode: resp.StatusCode, Body: truncate(buf)}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = clierr.Wrap(clierr.CodeRateLimited, "provider rate limited request", status)
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, clierr.Wrap(clierr.CodeAuth, "provider authentication failed", status)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = clierr.Wrap(clierr.CodeUnavailable, "provider unavailable", status)
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, clierr.Wrap(clierr.CodeUnsupported, "provider rejected request", status)
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "provider returned empty response", ErrEmptyBody)
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "decode provider JSON", fmt.Errorf("%w: %v", ErrDecode, err))
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

// GetJSON issues a GET with optional headers and decodes the JSON response.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return c.DoJSON(ctx, req, out)
}

// IsTimeout reports whether err came from a transport deadline or cancellation.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func mapNetError(err error) error {
	if IsTimeout(err) {
		return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider request failed", err)
}

func truncate(buf []byte) []byte {
	if len(buf) <= maxErrorBody {
		return buf
	}
	return buf[:maxErrorBody]
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
