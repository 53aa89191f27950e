package webdriver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// Session is a handle to one live browser session. All methods are safe to
// call from a single goroutine; the core loop is the only caller.
type Session struct {
	client *Client
	id     string
}

// Element is an opaque reference into the remote DOM. It can go stale at any
// time; callers treat ErrStaleElement as "look it up again".
type Element struct {
	session *Session
	id      string
}

func (s *Session) ID() string { return s.id }

func (s *Session) path(suffix string) string {
	return "/session/" + s.id + suffix
}

// Delete terminates the browser session.
func (s *Session) Delete(ctx context.Context) error {
	return s.client.doJSON(ctx, fasthttp.MethodDelete, s.path(""), nil, nil, false)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.client.doJSON(ctx, fasthttp.MethodPost, s.path("/url"), navigateRequest{URL: url}, nil, true)
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var out valueEnvelope[string]
	if err := s.client.doJSON(ctx, fasthttp.MethodGet, s.path("/url"), nil, &out, false); err != nil {
		return "", err
	}
	return out.Value, nil
}

// Refresh reloads the current page. Used as the first recovery escalation.
func (s *Session) Refresh(ctx context.Context) error {
	return s.client.doJSON(ctx, fasthttp.MethodPost, s.path("/refresh"), nil, nil, false)
}

// FindElement resolves a single element by the given strategy.
func (s *Session) FindElement(ctx context.Context, using, value string) (*Element, error) {
	var out valueEnvelope[map[string]string]
	if err := s.client.doJSON(ctx, fasthttp.MethodPost, s.path("/element"), findRequest{Using: using, Value: value}, &out, false); err != nil {
		return nil, err
	}
	id := out.Value[elementKey]
	if id == "" {
		return nil, ErrNoSuchElement
	}
	return &Element{session: s, id: id}, nil
}

// FindElements resolves all matches; an empty slice is not an error.
func (s *Session) FindElements(ctx context.Context, using, value string) ([]*Element, error) {
	var out valueEnvelope[[]map[string]string]
	if err := s.client.doJSON(ctx, fasthttp.MethodPost, s.path("/elements"), findRequest{Using: using, Value: value}, &out, false); err != nil {
		return nil, err
	}
	els := make([]*Element, 0, len(out.Value))
	for _, m := range out.Value {
		if id := m[elementKey]; id != "" {
			els = append(els, &Element{session: s, id: id})
		}
	}
	return els, nil
}

// WaitFor polls find until it succeeds or the deadline passes. Transient
// lookup errors keep the poll going; anything else aborts immediately.
func (s *Session) WaitFor(ctx context.Context, timeout time.Duration, using, value string) (*Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := s.FindElement(ctx, using, value)
		if err == nil {
			return el, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: waited %s for %s %q", ErrTimeout, timeout, using, value)
		}
		if err := sleepWithContext(ctx, 500*time.Millisecond); err != nil {
			return nil, err
		}
	}
}

// ExecuteScript runs script synchronously in the page and decodes the result
// into out when non-nil.
func (s *Session) ExecuteScript(ctx context.Context, script string, args []any, out any) error {
	if args == nil {
		args = []any{}
	}
	var raw valueEnvelope[json.RawMessage]
	if err := s.client.doJSON(ctx, fasthttp.MethodPost, s.path("/execute/sync"), executeRequest{Script: script, Args: args}, &raw, false); err != nil {
		return err
	}
	if out == nil || len(raw.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Value, out); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	return nil
}

// Screenshot returns the viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var out valueEnvelope[string]
	if err := s.client.doJSON(ctx, fasthttp.MethodGet, s.path("/screenshot"), nil, &out, false); err != nil {
		return nil, err
	}
	png, err := base64.StdEncoding.DecodeString(out.Value)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return png, nil
}

// PageSource returns the serialized DOM of the current page.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	var out valueEnvelope[string]
	if err := s.client.doJSON(ctx, fasthttp.MethodGet, s.path("/source"), nil, &out, false); err != nil {
		return "", err
	}
	return out.Value, nil
}

func (e *Element) path(suffix string) string {
	return e.session.path("/element/" + e.id + suffix)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	var out valueEnvelope[string]
	if err := e.session.client.doJSON(ctx, fasthttp.MethodGet, e.path("/text"), nil, &out, false); err != nil {
		return "", err
	}
	return out.Value, nil
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	return e.session.client.doJSON(ctx, fasthttp.MethodPost, e.path("/value"), sendKeysRequest{Text: text}, nil, false)
}

func (e *Element) Clear(ctx context.Context) error {
	return e.session.client.doJSON(ctx, fasthttp.MethodPost, e.path("/clear"), nil, nil, false)
}

func (e *Element) Click(ctx context.Context) error {
	return e.session.client.doJSON(ctx, fasthttp.MethodPost, e.path("/click"), nil, nil, false)
}
