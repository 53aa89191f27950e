// Package engine is the move oracle facade over a UCI subprocess.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/uci"
)

// Config selects the engine binary and its search budget. At least one of
// Depth or MoveTime must be set.
type Config struct {
	BinaryPath string
	Depth      int
	MoveTime   time.Duration
	HashMB     int
	Threads    int
}

// Suggestion is the oracle's answer for one position.
type Suggestion struct {
	MoveUCI   string
	EvalCP    int
	Mate      bool
	Principal []string
	Depth     int
	Elapsed   time.Duration
}

// Oracle is what the decision layer consumes. Satisfied by Engine and faked
// in tests.
type Oracle interface {
	BestMove(ctx context.Context, moves []string) (Suggestion, error)
}

// Engine holds one live UCI session and restarts it once when a search
// fails. A second consecutive failure surfaces to the caller; the tick loop
// treats that as a pending decision and tries again next tick.
type Engine struct {
	cfg     Config
	session *uci.Session
	logger  *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Depth <= 0 && cfg.MoveTime <= 0 {
		return nil, fmt.Errorf("engine needs a depth or movetime budget")
	}
	if cfg.HashMB <= 0 {
		cfg.HashMB = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := newSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, session: session, logger: logger}, nil
}

func newSession(ctx context.Context, cfg Config) (*uci.Session, error) {
	return uci.NewSession(ctx, cfg.BinaryPath, uci.Options{
		Threads: cfg.Threads,
		HashMB:  cfg.HashMB,
	})
}

// BestMove searches the position reached by moves from the start position.
func (e *Engine) BestMove(ctx context.Context, moves []string) (Suggestion, error) {
	start := time.Now()

	res, err := e.search(ctx, moves)
	if err != nil {
		e.logger.Warn("engine_search_failed_restarting", zap.Error(err))
		if rerr := e.restart(ctx); rerr != nil {
			return Suggestion{}, fmt.Errorf("restart engine after search failure: %w", rerr)
		}
		res, err = e.search(ctx, moves)
		if err != nil {
			return Suggestion{}, fmt.Errorf("search after engine restart: %w", err)
		}
	}

	return Suggestion{
		MoveUCI:   res.BestMove,
		EvalCP:    res.EvalCP,
		Mate:      res.Mate,
		Principal: res.Principal,
		Depth:     res.Depth,
		Elapsed:   time.Since(start),
	}, nil
}

// NewGame resets the engine's state at a game boundary.
func (e *Engine) NewGame(ctx context.Context) error {
	return e.session.NewGame(ctx)
}

func (e *Engine) Close() error {
	return e.session.Close()
}

func (e *Engine) search(ctx context.Context, moves []string) (uci.Result, error) {
	return e.session.Search(ctx, moves, uci.Limits{
		Depth:          e.cfg.Depth,
		MoveTimeMillis: int(e.cfg.MoveTime / time.Millisecond),
	})
}

func (e *Engine) restart(ctx context.Context) error {
	_ = e.session.Close()
	session, err := newSession(ctx, e.cfg)
	if err != nil {
		return err
	}
	e.session = session
	return nil
}
