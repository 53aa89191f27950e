package webdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// driverStub is a minimal scriptable W3C endpoint. Handlers are keyed by
// "METHOD path"; unmatched requests fail the test.
type driverStub struct {
	t  *testing.T
	mu sync.Mutex

	handlers map[string]http.HandlerFunc
	requests []recordedRequest
	server   *httptest.Server
}

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

func newDriverStub(t *testing.T) *driverStub {
	t.Helper()
	s := &driverStub{t: t, handlers: map[string]http.HandlerFunc{}}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)

	s.handle("POST /session", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, map[string]any{"sessionId": "sess-1", "capabilities": map[string]any{}})
	})
	return s
}

func (s *driverStub) handle(key string, fn http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = fn
}

func (s *driverStub) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	fn, ok := s.handlers[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if !ok {
		s.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		writeDriverError(w, "unknown command", "no handler")
		return
	}
	fn(w, r)
}

func (s *driverStub) calls(method, path string) []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedRequest
	for _, req := range s.requests {
		if req.Method == method && req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func writeValue(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"value": v})
}

func writeDriverError(w http.ResponseWriter, code, msg string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"value": map[string]any{"error": code, "message": msg},
	})
}

func newTestSession(t *testing.T, stub *driverStub, opts ...Option) *Session {
	t.Helper()
	client := NewClient(stub.server.URL, opts...)
	sess, err := client.NewSession(context.Background(), "firefox")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func TestNewSessionShapesCapabilities(t *testing.T) {
	stub := newDriverStub(t)
	newTestSession(t, stub)

	calls := stub.calls("POST", "/session")
	if len(calls) != 1 {
		t.Fatalf("session calls = %d", len(calls))
	}
	caps, _ := calls[0].Body["capabilities"].(map[string]any)
	always, _ := caps["alwaysMatch"].(map[string]any)
	if always["browserName"] != "firefox" {
		t.Fatalf("capabilities body = %v", calls[0].Body)
	}
}

func TestNavigateTargetsSessionURL(t *testing.T) {
	stub := newDriverStub(t)
	stub.handle("POST /session/sess-1/url", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, nil)
	})
	sess := newTestSession(t, stub)

	if err := sess.Navigate(context.Background(), "https://lichess.org"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	calls := stub.calls("POST", "/session/sess-1/url")
	if len(calls) != 1 || calls[0].Body["url"] != "https://lichess.org" {
		t.Fatalf("navigate calls = %+v", calls)
	}
}

func TestNavigateRetriesServerErrors(t *testing.T) {
	stub := newDriverStub(t)
	var mu sync.Mutex
	attempts := 0
	stub.handle("POST /session/sess-1/url", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeDriverError(w, "unknown error", "driver busy")
			return
		}
		writeValue(w, nil)
	})
	sess := newTestSession(t, stub, WithRetry(3))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Navigate(ctx, "https://lichess.org"); err != nil {
		t.Fatalf("Navigate should succeed on the third attempt: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	stub := newDriverStub(t)
	stub.handle("POST /session/sess-1/url", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeDriverError(w, "invalid argument", "bad url")
	})
	sess := newTestSession(t, stub, WithRetry(3))

	if err := sess.Navigate(context.Background(), "::bad::"); err == nil {
		t.Fatal("expected error")
	}
	if n := len(stub.calls("POST", "/session/sess-1/url")); n != 1 {
		t.Fatalf("400 retried: %d attempts", n)
	}
}

func TestDriverErrorsMapToSentinels(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"no such element", ErrNoSuchElement},
		{"stale element reference", ErrStaleElement},
		{"timeout", ErrTimeout},
		{"invalid session id", ErrSessionGone},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			stub := newDriverStub(t)
			stub.handle("POST /session/sess-1/element", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				writeDriverError(w, tc.code, "scripted")
			})
			sess := newTestSession(t, stub)

			_, err := sess.FindElement(context.Background(), ByCSS, ".missing")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFindElementDecodesReferenceAndRoutesCommands(t *testing.T) {
	stub := newDriverStub(t)
	stub.handle("POST /session/sess-1/element", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, map[string]string{elementKey: "el-9"})
	})
	stub.handle("GET /session/sess-1/element/el-9/text", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, "Nf3")
	})
	sess := newTestSession(t, stub)

	el, err := sess.FindElement(context.Background(), ByXPath, "//kwdb[3]")
	if err != nil {
		t.Fatalf("FindElement: %v", err)
	}
	text, err := el.Text(context.Background())
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "Nf3" {
		t.Fatalf("text = %q", text)
	}
	if calls := stub.calls("POST", "/session/sess-1/element"); calls[0].Body["using"] != ByXPath {
		t.Fatalf("find body = %+v", calls[0].Body)
	}
}

func TestFindElementsEmptyResultIsNotAnError(t *testing.T) {
	stub := newDriverStub(t)
	stub.handle("POST /session/sess-1/elements", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, []map[string]string{})
	})
	sess := newTestSession(t, stub)

	els, err := sess.FindElements(context.Background(), ByCSS, "kwdb")
	if err != nil {
		t.Fatalf("FindElements: %v", err)
	}
	if len(els) != 0 {
		t.Fatalf("els = %d", len(els))
	}
}

func TestSendKeysOrderAgainstStub(t *testing.T) {
	stub := newDriverStub(t)
	stub.handle("POST /session/sess-1/element", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, map[string]string{elementKey: "input-1"})
	})
	stub.handle("POST /session/sess-1/element/input-1/value", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, nil)
	})
	stub.handle("POST /session/sess-1/element/input-1/clear", func(w http.ResponseWriter, _ *http.Request) {
		writeValue(w, nil)
	})
	sess := newTestSession(t, stub)

	ctx := context.Background()
	el, err := sess.FindElement(ctx, ByCSS, "input.ready")
	if err != nil {
		t.Fatalf("FindElement: %v", err)
	}
	if err := el.SendKeys(ctx, KeyReturn); err != nil {
		t.Fatalf("SendKeys return: %v", err)
	}
	if err := el.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := el.SendKeys(ctx, "e2e4"); err != nil {
		t.Fatalf("SendKeys move: %v", err)
	}

	keys := stub.calls("POST", "/session/sess-1/element/input-1/value")
	if len(keys) != 2 || keys[0].Body["text"] != KeyReturn || keys[1].Body["text"] != "e2e4" {
		t.Fatalf("send-keys bodies = %+v", keys)
	}
}

func TestIsTransientClassification(t *testing.T) {
	transient := []error{
		ErrNoSuchElement,
		ErrStaleElement,
		fmt.Errorf("find: %w", ErrTimeout),
	}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("IsTransient(%v) = false", err)
		}
	}
	if IsTransient(ErrSessionGone) {
		t.Error("session loss must not be auto-retried at call granularity")
	}
	if IsTransient(errors.New("illegal move")) {
		t.Error("semantic errors are never transient")
	}
}
