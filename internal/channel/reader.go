package channel

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/position"
)

// maxSyncPlies is a safety cap against a runaway synchronization scan.
const maxSyncPlies = 999

// Slot is a read-only snapshot of what the page reports at one ply.
// Present is false for absent and placeholder entries alike; a channel
// failure is an error, never an absent slot.
type Slot struct {
	Ply     int
	Text    string
	Present bool
}

// SlotSource reads observed slots. Implemented by Channel; faked in tests.
type SlotSource interface {
	Read(ctx context.Context, ply int) (Slot, error)
}

// Capturer records a diagnostic bundle. Best effort; implementations must
// not fail the caller.
type Capturer interface {
	Capture(ctx context.Context, ply int, reason string)
}

// Read resolves the observed slot at ply through the selector chain.
func (c *Channel) Read(ctx context.Context, ply int) (Slot, error) {
	text, found, err := c.lookupMoveText(ctx, ply)
	if err != nil {
		return Slot{}, fmt.Errorf("read slot %d: %w", ply, err)
	}
	if !found || isPlaceholder(text) {
		return Slot{Ply: ply}, nil
	}
	return Slot{Ply: ply, Text: text, Present: true}, nil
}

func isPlaceholder(text string) bool {
	switch strings.TrimSpace(text) {
	case "", "...", "…":
		return true
	default:
		return false
	}
}

// Reader reconciles the store against the observed move list.
type Reader struct {
	src    SlotSource
	cap    Capturer
	logger *zap.Logger
}

func NewReader(src SlotSource, cap Capturer, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{src: src, cap: cap, logger: logger}
}

// Read proxies to the underlying slot source.
func (r *Reader) Read(ctx context.Context, ply int) (Slot, error) {
	return r.src.Read(ctx, ply)
}

// Synchronize replays the observed move list into the store, starting at the
// store's next expected ply, until the first absent slot. It returns the
// next-expected ply. On a semantic apply failure it stops at the offending
// ply and captures diagnostics; skipping past a bad parse would corrupt the
// ply counter, so it never does.
func (r *Reader) Synchronize(ctx context.Context, store *position.Store) (int, error) {
	for store.NextPly() <= maxSyncPlies {
		if err := ctx.Err(); err != nil {
			return store.NextPly(), err
		}
		ply := store.NextPly()

		slot, err := r.src.Read(ctx, ply)
		if err != nil {
			return ply, fmt.Errorf("synchronize at ply %d: %w", ply, err)
		}
		if !slot.Present {
			r.logger.Info("synchronized",
				zap.Int("next_ply", ply),
				zap.Int("replayed_moves", store.HistoryLen()))
			return ply, nil
		}

		applied, err := store.Apply(slot.Text)
		if err != nil {
			r.logger.Error("sync_apply_failed",
				zap.Int("ply", ply),
				zap.String("raw_text", slot.Text),
				zap.String("fen", store.FEN()),
				zap.Error(err))
			if r.cap != nil {
				r.cap.Capture(ctx, ply, "sync apply failed: "+slot.Text)
			}
			return ply, fmt.Errorf("apply observed move at ply %d: %w", ply, err)
		}
		r.logger.Debug("sync_applied", zap.Int("ply", applied.Ply), zap.String("san", applied.SAN))
	}
	return store.NextPly(), fmt.Errorf("synchronize exceeded %d plies", maxSyncPlies)
}
