// Package channel is the read/write boundary to the live game page. All
// lookups degrade through ordered selector fallbacks because the remote DOM
// structure is not contractually stable.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/arbiter"
	"github.com/kapu/lichess-copilot/internal/resilience"
	"github.com/kapu/lichess-copilot/internal/webdriver"
)

const (
	selMoveNode    = "kwdb"
	selMoveInput   = "input.ready"
	selFollowUp    = ".follow-up"
	selBoardWrap   = ".cg-wrap"
	selWhiteBoard  = ".orientation-white"
	selMessage     = ".message"
	selClockBottom = ".rclock-bottom.running"
	selClockTop    = ".rclock-top.running"
	selStatus      = ".status"
)

// Config bounds the channel's waits.
type Config struct {
	StartupWait time.Duration
	PollTimeout time.Duration
}

// Channel wraps one browser session with supervised, selector-fallback
// access to the game page.
type Channel struct {
	sess   *webdriver.Session
	sup    *resilience.Supervisor
	cfg    Config
	logger *zap.Logger
}

func New(sess *webdriver.Session, sup *resilience.Supervisor, cfg Config, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = 60 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 4 * time.Second
	}
	return &Channel{sess: sess, sup: sup, cfg: cfg, logger: logger}
}

// Probe is a cheap liveness check used by the supervisor's circuit breaker.
func (c *Channel) Probe(ctx context.Context) error {
	_, err := c.sess.CurrentURL(ctx)
	return err
}

// Recover is the escalated recovery action: reload the page and wait for the
// board to come back.
func (c *Channel) Recover(ctx context.Context) error {
	if err := c.sess.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh page: %w", err)
	}
	if _, err := c.sess.WaitFor(ctx, c.cfg.StartupWait, webdriver.ByCSS, selBoardWrap); err != nil {
		return fmt.Errorf("board did not reappear: %w", err)
	}
	c.logger.Info("channel_recovered_by_refresh")
	return nil
}

// WaitForGameReady blocks until the previous game's follow-up dialog is gone
// and the move input plus board container exist.
func (c *Channel) WaitForGameReady(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.StartupWait)
	for {
		over, err := c.exists(ctx, selFollowUp)
		if err != nil {
			return err
		}
		if !over {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: follow-up dialog never cleared", webdriver.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}

	if _, err := c.sess.WaitFor(ctx, c.cfg.StartupWait, webdriver.ByCSS, selMoveInput); err != nil {
		return fmt.Errorf("move input not found: %w", err)
	}
	if _, err := c.sess.WaitFor(ctx, c.cfg.StartupWait, webdriver.ByCSS, selBoardWrap); err != nil {
		return fmt.Errorf("board not found: %w", err)
	}
	c.logger.Info("game_ready")
	return nil
}

// DetermineColor reads the board orientation to find which side we play.
func (c *Channel) DetermineColor(ctx context.Context) (nchess.Color, error) {
	white, err := c.exists(ctx, selWhiteBoard)
	if err != nil {
		return nchess.NoColor, err
	}
	if white {
		return nchess.White, nil
	}
	return nchess.Black, nil
}

// MoveInputReady reports whether the keyboard move input currently accepts
// text. It disappears briefly during board animations and promotions.
func (c *Channel) MoveInputReady(ctx context.Context) (bool, error) {
	return c.exists(ctx, selMoveInput)
}

// GameOver reports whether the page shows the terminal follow-up dialog.
func (c *Channel) GameOver(ctx context.Context) (bool, error) {
	return c.exists(ctx, selFollowUp)
}

// ResultText returns the page's game status line, best effort.
func (c *Channel) ResultText(ctx context.Context) string {
	var text string
	err := c.sup.Do(ctx, "result_text", func(ctx context.Context) error {
		els, err := c.sess.FindElements(ctx, webdriver.ByCSS, selStatus)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return nil
		}
		t, err := els[0].Text(ctx)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(t)
		return nil
	})
	if err != nil {
		return ""
	}
	return text
}

// SubmitMove sends move text through the page's keyboard input. The protocol
// is fixed: a return keystroke to commit any pending text, clear, then type
// the new move. Reordering breaks the remote form's semantics.
func (c *Channel) SubmitMove(ctx context.Context, text string) error {
	return c.sup.Do(ctx, "submit_move", func(ctx context.Context) error {
		input, err := c.sess.FindElement(ctx, webdriver.ByCSS, selMoveInput)
		if err != nil {
			return err
		}
		if err := input.SendKeys(ctx, webdriver.KeyReturn); err != nil {
			return err
		}
		if err := input.Clear(ctx); err != nil {
			return err
		}
		return input.SendKeys(ctx, text)
	})
}

// TurnSignals gathers interface-derived turn evidence, best effort. Missing
// widgets simply produce no signal; only hard channel failures bubble up via
// the supervisor's health tracking.
func (c *Channel) TurnSignals(ctx context.Context) []arbiter.Signal {
	var signals []arbiter.Signal

	if text, ok := c.elementTextIfAny(ctx, "turn_message", selMessage); ok {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "your turn"):
			signals = append(signals, arbiter.Signal{Source: arbiter.SourceInterface, Value: true, Confidence: 3})
		case strings.Contains(lower, "waiting for opponent"):
			signals = append(signals, arbiter.Signal{Source: arbiter.SourceInterface, Value: false, Confidence: 3})
		}
	}

	if present, err := c.exists(ctx, selClockBottom); err == nil && present {
		signals = append(signals, arbiter.Signal{Source: arbiter.SourceClock, Value: true, Confidence: 2})
	} else if present, err := c.exists(ctx, selClockTop); err == nil && present {
		signals = append(signals, arbiter.Signal{Source: arbiter.SourceClock, Value: false, Confidence: 2})
	}

	var title string
	if err := c.sess.ExecuteScript(ctx, "return document.title;", nil, &title); err == nil {
		if strings.HasPrefix(strings.ToLower(title), "your turn") {
			signals = append(signals, arbiter.Signal{Source: arbiter.SourceTextHint, Value: true, Confidence: 1})
		}
	}

	return signals
}

// Screenshot and PageSource expose the raw session to the diagnostic
// capturer without leaking it anywhere else.
func (c *Channel) Screenshot(ctx context.Context) ([]byte, error) {
	return c.sess.Screenshot(ctx)
}

func (c *Channel) PageSource(ctx context.Context) (string, error) {
	return c.sess.PageSource(ctx)
}

// exists reports element presence under the supervisor, absence not being an
// error.
func (c *Channel) exists(ctx context.Context, selector string) (bool, error) {
	var present bool
	err := c.sup.Do(ctx, "exists "+selector, func(ctx context.Context) error {
		els, err := c.sess.FindElements(ctx, webdriver.ByCSS, selector)
		if err != nil {
			return err
		}
		present = len(els) > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return present, nil
}

func (c *Channel) elementTextIfAny(ctx context.Context, op, selector string) (string, bool) {
	var (
		text  string
		found bool
	)
	err := c.sup.Do(ctx, op, func(ctx context.Context) error {
		els, err := c.sess.FindElements(ctx, webdriver.ByCSS, selector)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return nil
		}
		t, err := els[0].Text(ctx)
		if err != nil {
			return err
		}
		text, found = t, true
		return nil
	})
	if err != nil {
		return "", false
	}
	return text, found
}
