package webdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Client speaks the W3C WebDriver wire protocol to a local driver
// (geckodriver, chromedriver) over plain JSON/HTTP.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 30 * time.Second,
		retryMax:       2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSession starts a browser session and returns a handle bound to it.
func (c *Client) NewSession(ctx context.Context, browserName string) (*Session, error) {
	req := newSessionRequest{
		Capabilities: capabilities{
			AlwaysMatch: map[string]any{"browserName": browserName},
		},
	}
	var out valueEnvelope[sessionValue]
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/session", req, &out, false); err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	if out.Value.SessionID == "" {
		return nil, errors.New("webdriver: empty session id")
	}
	return &Session{client: c, id: out.Value.SessionID}, nil
}

// doJSON performs one wire call. Transport-level failures and retriable HTTP
// statuses are retried with capped exponential backoff when retry is set;
// driver protocol errors are decoded and surfaced as sentinel errors.
func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	url := c.baseURL + path
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/json")

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	} else if method == fasthttp.MethodPost {
		// W3C drivers reject POST with no body.
		req.SetBodyString("{}")
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := c.computeDeadline(ctx)
		err := c.http.DoDeadline(req, resp, deadline)
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrTimeout, err)
			if !errors.Is(err, fasthttp.ErrTimeout) {
				wrapped = fmt.Errorf("webdriver request: %w", err)
			}
			if attempt == attempts || !retry {
				return wrapped
			}
			lastErr = wrapped
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := decodeError(status, resp.Body())
			if attempt == attempts || !retry || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("webdriver: unknown error")
	}
	return lastErr
}

// decodeError maps a W3C error payload onto the package sentinels.
func decodeError(status int, body []byte) error {
	var env valueEnvelope[errorValue]
	if err := json.Unmarshal(body, &env); err == nil && env.Value.Error != "" {
		switch env.Value.Error {
		case "no such element":
			return fmt.Errorf("%w: %s", ErrNoSuchElement, env.Value.Message)
		case "stale element reference":
			return fmt.Errorf("%w: %s", ErrStaleElement, env.Value.Message)
		case "timeout", "script timeout":
			return fmt.Errorf("%w: %s", ErrTimeout, env.Value.Message)
		case "invalid session id":
			return fmt.Errorf("%w: %s", ErrSessionGone, env.Value.Message)
		default:
			return fmt.Errorf("webdriver: %s: %s", env.Value.Error, env.Value.Message)
		}
	}
	return fmt.Errorf("webdriver: status=%d body=%s", status, truncate(string(body), 512))
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
