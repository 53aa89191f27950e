package webdriver

import "errors"

// W3C WebDriver locator strategies.
const (
	ByCSS   = "css selector"
	ByXPath = "xpath"
)

// KeyReturn is the return-key codepoint from the WebDriver keyboard table.
const KeyReturn = "\uE006"

// elementKey is the W3C web element identifier property.
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

var (
	// ErrNoSuchElement means the lookup matched nothing. Callers decide
	// whether that is "not yet present" or a failure.
	ErrNoSuchElement = errors.New("webdriver: no such element")
	// ErrStaleElement means the element reference is no longer attached.
	ErrStaleElement = errors.New("webdriver: stale element reference")
	// ErrTimeout covers driver-side and transport-side deadline expiry.
	ErrTimeout = errors.New("webdriver: timeout")
	// ErrSessionGone means the session was terminated on the remote end.
	ErrSessionGone = errors.New("webdriver: invalid session")
)

// IsTransient reports whether a driver error is worth retrying: the element
// may appear on the next poll, the reference may be re-resolved, or the
// transport may recover. Semantic application errors never originate here.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoSuchElement) ||
		errors.Is(err, ErrStaleElement) ||
		errors.Is(err, ErrTimeout)
}

type newSessionRequest struct {
	Capabilities capabilities `json:"capabilities"`
}

type capabilities struct {
	AlwaysMatch map[string]any `json:"alwaysMatch"`
}

type valueEnvelope[T any] struct {
	Value T `json:"value"`
}

type sessionValue struct {
	SessionID string `json:"sessionId"`
}

type errorValue struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace"`
}

type findRequest struct {
	Using string `json:"using"`
	Value string `json:"value"`
}

type sendKeysRequest struct {
	Text string `json:"text"`
}

type navigateRequest struct {
	URL string `json:"url"`
}

type executeRequest struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}
