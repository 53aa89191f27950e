// Package decision produces one MoveDecision per tick for our own plies.
package decision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/channel"
	"github.com/kapu/lichess-copilot/internal/engine"
)

// Kind tags the decision variants.
type Kind int

const (
	// AlreadyExecuted means the slot for this ply is already populated on the
	// page; the text only needs absorbing into the local position.
	AlreadyExecuted Kind = iota
	// Suggested carries a fresh engine move for this ply.
	Suggested
	// Pending means no decision could be made this tick; retry next tick.
	Pending
)

func (k Kind) String() string {
	switch k {
	case AlreadyExecuted:
		return "already_executed"
	case Suggested:
		return "suggested"
	case Pending:
		return "pending"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is produced fresh every tick, never persisted across ticks.
type Decision struct {
	Kind       Kind
	Ply        int
	Text       string
	Suggestion engine.Suggestion
	Rationale  string
}

// Engine checks the observed channel before asking the oracle. The ordering
// matters: our previous submission may already have landed externally, and
// issuing a second suggestion for the same ply would fork the game.
type Engine struct {
	slots  channel.SlotSource
	oracle engine.Oracle
	logger *zap.Logger
}

func New(slots channel.SlotSource, oracle engine.Oracle, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{slots: slots, oracle: oracle, logger: logger}
}

// Decide resolves what to do at ply given the committed move history.
func (e *Engine) Decide(ctx context.Context, ply int, movesUCI []string) (Decision, error) {
	slot, err := e.slots.Read(ctx, ply)
	if err != nil {
		return Decision{Kind: Pending, Ply: ply}, fmt.Errorf("check slot before suggesting at ply %d: %w", ply, err)
	}
	if slot.Present {
		e.logger.Info("move_already_on_page",
			zap.Int("ply", ply),
			zap.String("text", slot.Text))
		return Decision{Kind: AlreadyExecuted, Ply: ply, Text: slot.Text}, nil
	}

	sug, err := e.oracle.BestMove(ctx, movesUCI)
	if err != nil {
		// Oracle failures are retriable next tick; the position is untouched.
		e.logger.Warn("oracle_unavailable", zap.Int("ply", ply), zap.Error(err))
		return Decision{Kind: Pending, Ply: ply}, nil
	}

	return Decision{
		Kind:       Suggested,
		Ply:        ply,
		Suggestion: sug,
		Rationale:  rationale(sug),
	}, nil
}

func rationale(s engine.Suggestion) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "depth %d", s.Depth)
	if s.Mate {
		if s.EvalCP >= 0 {
			sb.WriteString(" mate for us")
		} else {
			sb.WriteString(" mate against us")
		}
	} else {
		fmt.Fprintf(&sb, " eval %+.2f", float64(s.EvalCP)/100)
	}
	if len(s.Principal) > 0 {
		limit := len(s.Principal)
		if limit > 5 {
			limit = 5
		}
		sb.WriteString(" pv ")
		sb.WriteString(strings.Join(s.Principal[:limit], " "))
	}
	return sb.String()
}
