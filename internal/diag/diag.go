// Package diag writes best-effort failure bundles: screenshot, page source,
// position text and a rendered board. Nothing here may fail the caller.
package diag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/position"
	"github.com/kapu/lichess-copilot/internal/render"
)

const pruneAge = 7 * 24 * time.Hour

// PageDumper is the channel's raw read surface.
type PageDumper interface {
	Screenshot(ctx context.Context) ([]byte, error)
	PageSource(ctx context.Context) (string, error)
}

// Capture bundles everything needed to reconstruct a failure offline.
type Capture struct {
	dir    string
	pages  PageDumper
	store  *position.Store
	logger *zap.Logger
}

func NewCapture(dir string, pages PageDumper, store *position.Store, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{dir: dir, pages: pages, store: store, logger: logger}
}

// Prune removes stale bundles. Called once at startup.
func (c *Capture) Prune() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-pruneAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "capture_") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(c.dir, e.Name()))
	}
}

// Capture writes one bundle. Every step is independent; a failed step is
// logged and skipped.
func (c *Capture) Capture(ctx context.Context, ply int, reason string) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warn("capture_dir_unavailable", zap.String("dir", c.dir), zap.Error(err))
		return
	}

	stamp := time.Now().Format("20060102_150405")
	prefix := filepath.Join(c.dir, fmt.Sprintf("capture_%s_ply%03d", stamp, ply))

	if c.pages != nil {
		if shot, err := c.pages.Screenshot(ctx); err == nil {
			c.write(prefix+".png", shot)
		} else {
			c.logger.Warn("capture_screenshot_failed", zap.Error(err))
		}
		if src, err := c.pages.PageSource(ctx); err == nil {
			c.write(prefix+".html", []byte(src))
		} else {
			c.logger.Warn("capture_page_source_failed", zap.Error(err))
		}
	}

	if c.store != nil {
		c.write(prefix+".txt", []byte(c.positionText(ply, reason)))
		if board, err := render.PNG(c.store.Board(), nil); err == nil {
			c.write(prefix+"_board.png", board)
		} else {
			c.logger.Warn("capture_board_render_failed", zap.Error(err))
		}
	}

	c.logger.Info("diagnostic_captured",
		zap.Int("ply", ply),
		zap.String("reason", reason),
		zap.String("prefix", prefix))
}

func (c *Capture) positionText(ply int, reason string) string {
	snap := c.store.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&sb, "reason: %s\n", reason)
	fmt.Fprintf(&sb, "ply: %d\n", ply)
	fmt.Fprintf(&sb, "next_ply: %d\n", snap.NextPly)
	fmt.Fprintf(&sb, "turn: %s\n", snap.Turn.String())
	fmt.Fprintf(&sb, "fen: %s\n", snap.FEN)
	fmt.Fprintf(&sb, "moves_san: %s\n", strings.Join(snap.MovesSAN, " "))
	fmt.Fprintf(&sb, "moves_uci: %s\n", strings.Join(snap.MovesUCI, " "))
	return sb.String()
}

func (c *Capture) write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.logger.Warn("capture_write_failed", zap.String("path", path), zap.Error(err))
	}
}
