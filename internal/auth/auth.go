// Package auth signs the browser session in to lichess.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/webdriver"
)

const (
	selUsername  = "#form3-username"
	selPassword  = "#form3-password"
	selToken     = "#form3-token"
	selSubmit    = "button.submit"
	selUserTag   = "#user_tag"
	selAuthError = ".flash-error"

	loginWait = 20 * time.Second
)

// ErrBadCredentials means the site rejected the configured account.
var ErrBadCredentials = fmt.Errorf("login rejected")

// Credentials configures the sign-in. TOTPSecret is optional.
type Credentials struct {
	Username   string
	Password   string
	TOTPSecret string
}

// Login drives the credential form and, when asked, the TOTP challenge.
// Already-authenticated sessions return immediately.
func Login(ctx context.Context, sess *webdriver.Session, baseURL string, creds Credentials, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := sess.Navigate(ctx, strings.TrimRight(baseURL, "/")+"/login"); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	if loggedIn(ctx, sess) {
		logger.Info("session_already_authenticated")
		return nil
	}

	if err := fillField(ctx, sess, selUsername, creds.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := fillField(ctx, sess, selPassword, creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := clickSubmit(ctx, sess); err != nil {
		return fmt.Errorf("submit credentials: %w", err)
	}

	if present, _ := elementPresent(ctx, sess, selToken); present {
		if strings.TrimSpace(creds.TOTPSecret) == "" {
			return fmt.Errorf("%w: account requires a one-time code but no secret is configured", ErrBadCredentials)
		}
		code, err := totpCode(creds.TOTPSecret, time.Now())
		if err != nil {
			return err
		}
		if err := fillField(ctx, sess, selToken, code); err != nil {
			return fmt.Errorf("fill one-time code: %w", err)
		}
		if err := clickSubmit(ctx, sess); err != nil {
			return fmt.Errorf("submit one-time code: %w", err)
		}
		logger.Info("totp_challenge_answered")
	}

	if _, err := sess.WaitFor(ctx, loginWait, webdriver.ByCSS, selUserTag); err != nil {
		if present, _ := elementPresent(ctx, sess, selAuthError); present {
			return ErrBadCredentials
		}
		return fmt.Errorf("login confirmation not found: %w", err)
	}
	logger.Info("logged_in", zap.String("username", creds.Username))
	return nil
}

func loggedIn(ctx context.Context, sess *webdriver.Session) bool {
	present, err := elementPresent(ctx, sess, selUserTag)
	return err == nil && present
}

func fillField(ctx context.Context, sess *webdriver.Session, selector, value string) error {
	el, err := sess.WaitFor(ctx, loginWait, webdriver.ByCSS, selector)
	if err != nil {
		return err
	}
	if err := el.Clear(ctx); err != nil {
		return err
	}
	return el.SendKeys(ctx, value)
}

func clickSubmit(ctx context.Context, sess *webdriver.Session) error {
	el, err := sess.FindElement(ctx, webdriver.ByCSS, selSubmit)
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

func elementPresent(ctx context.Context, sess *webdriver.Session, selector string) (bool, error) {
	els, err := sess.FindElements(ctx, webdriver.ByCSS, selector)
	if err != nil {
		return false, err
	}
	return len(els) > 0, nil
}
