// Package execute turns a move decision into page mutations and a committed
// position update.
package execute

import (
	"context"
	"fmt"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/decision"
	"github.com/kapu/lichess-copilot/internal/position"
)

// Mode selects who pulls the trigger.
type Mode int

const (
	Autonomous Mode = iota
	Gated
)

func (m Mode) String() string {
	if m == Gated {
		return "gated"
	}
	return "autonomous"
}

// Pacer delays a submission; implemented by humanize.Pacer.
type Pacer interface {
	Moving(ctx context.Context) error
}

// Submitter is the channel's write side plus the suggestion overlay.
type Submitter interface {
	SubmitMove(ctx context.Context, text string) error
	DrawArrow(ctx context.Context, moveUCI string, color nchess.Color) error
	ClearArrow(ctx context.Context) error
}

// NoArrow suppresses the suggestion overlay while leaving submission
// untouched. Used when the arrow is disabled by configuration.
type NoArrow struct{ Submitter }

func (NoArrow) DrawArrow(context.Context, string, nchess.Color) error { return nil }
func (NoArrow) ClearArrow(context.Context) error                      { return nil }

// Controller applies decisions to the store and the page. Only the tick loop
// calls Execute, so the store stays single-writer.
type Controller struct {
	mode   Mode
	sub    Submitter
	latch  *Latch
	pacer  Pacer
	logger *zap.Logger

	// shownPly/shownMove dedupe arrow redraws across gated ticks.
	shownPly  int
	shownMove string
}

func NewController(mode Mode, sub Submitter, latch *Latch, pacer Pacer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{mode: mode, sub: sub, latch: latch, pacer: pacer, logger: logger}
}

func (c *Controller) Mode() Mode { return c.mode }

// Execute handles one decision. It returns the applied move when the
// position advanced and nil when nothing happened this tick.
func (c *Controller) Execute(ctx context.Context, d decision.Decision, store *position.Store, color nchess.Color) (*position.AppliedMove, error) {
	switch d.Kind {
	case decision.AlreadyExecuted:
		applied, err := store.Apply(d.Text)
		if err != nil {
			return nil, fmt.Errorf("absorb externally executed move %q: %w", d.Text, err)
		}
		c.logger.Info("absorbed_external_move",
			zap.Int("ply", applied.Ply),
			zap.String("san", applied.SAN))
		return &applied, nil

	case decision.Suggested:
		if c.mode == Gated {
			return c.executeGated(ctx, d, store, color)
		}
		return c.submit(ctx, d, store)

	default:
		return nil, nil
	}
}

func (c *Controller) executeGated(ctx context.Context, d decision.Decision, store *position.Store, color nchess.Color) (*position.AppliedMove, error) {
	move := d.Suggestion.MoveUCI
	if c.shownPly != d.Ply || c.shownMove != move {
		if err := c.sub.DrawArrow(ctx, move, color); err != nil {
			c.logger.Warn("arrow_draw_failed", zap.String("move", move), zap.Error(err))
		} else {
			c.shownPly, c.shownMove = d.Ply, move
		}
		c.logger.Info("suggestion_shown",
			zap.Int("ply", d.Ply),
			zap.String("move", move),
			zap.String("rationale", d.Rationale))
	}

	if !c.latch.Asserted() {
		return nil, nil
	}

	applied, err := c.submit(ctx, d, store)
	if err != nil {
		return nil, err
	}
	// Reset only after the submission landed, so a failed attempt stays
	// armed for the next tick.
	c.latch.Reset()
	c.shownPly, c.shownMove = 0, ""
	if err := c.sub.ClearArrow(ctx); err != nil {
		c.logger.Warn("arrow_clear_failed", zap.Error(err))
	}
	return applied, nil
}

func (c *Controller) submit(ctx context.Context, d decision.Decision, store *position.Store) (*position.AppliedMove, error) {
	move := d.Suggestion.MoveUCI
	if c.pacer != nil {
		if err := c.pacer.Moving(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.sub.SubmitMove(ctx, move); err != nil {
		return nil, fmt.Errorf("submit move %q: %w", move, err)
	}
	applied, err := store.Apply(move)
	if err != nil {
		// The move left our hands but the oracle rejects it locally. This is
		// a forced-resync situation, not something to paper over.
		return nil, fmt.Errorf("apply own submission %q: %w", move, err)
	}
	c.logger.Info("move_submitted",
		zap.Int("ply", applied.Ply),
		zap.String("san", applied.SAN),
		zap.String("uci", applied.UCI),
		zap.String("mode", c.mode.String()))
	return &applied, nil
}
