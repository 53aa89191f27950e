// Package arbiter decides whose turn it is from multiple, possibly
// conflicting signals. The interface-derived signals win over the locally
// reconstructed board state because the page reflects ground truth sooner
// than a move list rebuilt from polling.
package arbiter

import (
	"go.uber.org/zap"
)

// Source identifies where a turn signal came from.
type Source int

const (
	SourceBoard Source = iota
	SourceInterface
	SourceClock
	SourceTextHint
)

func (s Source) String() string {
	switch s {
	case SourceBoard:
		return "board"
	case SourceInterface:
		return "interface"
	case SourceClock:
		return "clock"
	case SourceTextHint:
		return "text_hint"
	default:
		return "unknown"
	}
}

// Signal is one observation about whose turn it is. Confidence is ordinal:
// 0 means "no answer", higher wins.
type Signal struct {
	Source     Source
	Value      bool
	Confidence int
}

type Arbiter struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Arbiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{logger: logger}
}

// WhoseTurn arbitrates between the board-derived signal and any
// interface-derived signals gathered this tick. The highest-confidence
// interface signal wins when present; the board signal is the fallback.
// Disagreement is logged as a synchronization divergence but never fails
// the tick.
func (a *Arbiter) WhoseTurn(boardTurn bool, signals []Signal) bool {
	best := Signal{Confidence: 0}
	for _, sig := range signals {
		if sig.Source == SourceBoard || sig.Confidence <= 0 {
			continue
		}
		if sig.Confidence > best.Confidence {
			best = sig
		}
	}
	if best.Confidence == 0 {
		return boardTurn
	}
	if best.Value != boardTurn {
		a.logger.Warn("sync_divergence",
			zap.String("interface_source", best.Source.String()),
			zap.Bool("interface_turn", best.Value),
			zap.Bool("board_turn", boardTurn),
			zap.Int("confidence", best.Confidence))
	}
	return best.Value
}
