// Package loop drives the game from start to finish. One goroutine owns all
// mutation of the position store and channel health; everything published
// outward is an immutable snapshot.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/arbiter"
	"github.com/kapu/lichess-copilot/internal/archive"
	"github.com/kapu/lichess-copilot/internal/channel"
	"github.com/kapu/lichess-copilot/internal/decision"
	"github.com/kapu/lichess-copilot/internal/execute"
	"github.com/kapu/lichess-copilot/internal/hud"
	"github.com/kapu/lichess-copilot/internal/livestate"
	"github.com/kapu/lichess-copilot/internal/position"
	"github.com/kapu/lichess-copilot/internal/resilience"
)

// Phase is the lifecycle state.
type Phase int

const (
	AwaitingGameStart Phase = iota
	Synchronizing
	Playing
	Finished
)

func (p Phase) String() string {
	switch p {
	case AwaitingGameStart:
		return "awaiting_game_start"
	case Synchronizing:
		return "synchronizing"
	case Playing:
		return "playing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Table is the channel surface the loop drives. Implemented by
// channel.Channel; scripted in tests.
type Table interface {
	WaitForGameReady(ctx context.Context) error
	DetermineColor(ctx context.Context) (nchess.Color, error)
	MoveInputReady(ctx context.Context) (bool, error)
	GameOver(ctx context.Context) (bool, error)
	ResultText(ctx context.Context) string
	TurnSignals(ctx context.Context) []arbiter.Signal
	Recover(ctx context.Context) error
}

// Decider produces one decision for our ply.
type Decider interface {
	Decide(ctx context.Context, ply int, movesUCI []string) (decision.Decision, error)
}

// Executor applies a decision.
type Executor interface {
	Execute(ctx context.Context, d decision.Decision, store *position.Store, color nchess.Color) (*position.AppliedMove, error)
	Mode() execute.Mode
}

// Pacer spaces ticks and pre-decision thinks.
type Pacer interface {
	Base(ctx context.Context) error
	Thinking(ctx context.Context) error
}

// Publisher receives the per-tick snapshot.
type Publisher interface {
	Publish(hud.Snapshot)
}

// Capturer matches channel.Capturer; the loop invokes it on invariant
// violations and abandoned games.
type Capturer = channel.Capturer

// GameResetter lets the engine clear its state at game boundaries.
type GameResetter interface {
	NewGame(ctx context.Context) error
}

// Config bounds the loop's pacing and escalation.
type Config struct {
	// MaxSyncRetries bounds forced resynchronization attempts per game.
	MaxSyncRetries int
	// EscalationTicks is how many consecutive unreachable ticks are
	// tolerated before the recovery action runs.
	EscalationTicks int
	// TickInterval is the fixed floor between Playing ticks; the pacer's
	// jitter is added on top. Zero disables the floor.
	TickInterval time.Duration
}

func (c *Config) normalize() {
	if c.MaxSyncRetries <= 0 {
		c.MaxSyncRetries = 3
	}
	if c.EscalationTicks <= 0 {
		c.EscalationTicks = 5
	}
}

// Deps wires the loop. Live and Archive are optional (nil disables).
type Deps struct {
	Table   Table
	Reader  *channel.Reader
	Arbiter *arbiter.Arbiter
	Decider Decider
	Exec    Executor
	Sup     *resilience.Supervisor
	Store   *position.Store
	Pacer   Pacer
	Capture Capturer
	HUD     Publisher
	Live    *livestate.Store
	Archive *archive.Repository
	Engine  GameResetter
	Logger  *zap.Logger
}

// Loop runs games until its context is cancelled.
type Loop struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	phase Phase
	color nchess.Color

	gameID        string
	startedAt     time.Time
	unreachable   int
	syncRetries   int
	resumeChecked bool

	// Last pending suggestion for the HUD; cleared once a move lands.
	suggestion string
	rationale  string
}

func New(cfg Config, deps Deps) *Loop {
	cfg.normalize()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Loop{cfg: cfg, deps: deps, log: deps.Logger, phase: AwaitingGameStart}
}

// Phase is a test hook; the loop goroutine is the only writer.
func (l *Loop) Phase() Phase { return l.phase }

// Color reports the side we play in the current game.
func (l *Loop) Color() nchess.Color { return l.color }

// Run drives the lifecycle state machine until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch l.phase {
		case AwaitingGameStart:
			err = l.awaitGame(ctx)
		case Synchronizing:
			err = l.synchronize(ctx)
		case Playing:
			err = l.tick(ctx)
		case Finished:
			err = l.finish(ctx)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			l.log.Error("lifecycle_step_failed", zap.String("phase", l.phase.String()), zap.Error(err))
			l.abandonGame(ctx, err)
		}
	}
}

func (l *Loop) awaitGame(ctx context.Context) error {
	if err := l.deps.Table.WaitForGameReady(ctx); err != nil {
		return fmt.Errorf("wait for game: %w", err)
	}

	color, err := l.deps.Table.DetermineColor(ctx)
	if err != nil {
		return fmt.Errorf("determine color: %w", err)
	}

	l.deps.Store.Reset()
	l.color = color
	l.gameID = uuid.NewString()
	l.startedAt = time.Now()
	l.unreachable = 0
	l.syncRetries = 0
	l.suggestion = ""
	l.rationale = ""

	if l.deps.Engine != nil {
		if err := l.deps.Engine.NewGame(ctx); err != nil {
			l.log.Warn("engine_newgame_failed", zap.Error(err))
		}
	}

	l.log.Info("game_started",
		zap.String("game_id", l.gameID),
		zap.String("color", colorName(color)),
		zap.String("mode", l.deps.Exec.Mode().String()))
	l.setPhase(Synchronizing)
	return nil
}

func (l *Loop) synchronize(ctx context.Context) error {
	if _, err := l.deps.Reader.Synchronize(ctx, l.deps.Store); err != nil {
		l.syncRetries++
		if l.syncRetries > l.cfg.MaxSyncRetries {
			return fmt.Errorf("synchronize exhausted %d retries: %w", l.cfg.MaxSyncRetries, err)
		}
		l.log.Warn("synchronize_retry",
			zap.Int("attempt", l.syncRetries),
			zap.Error(err))
		// The failed pass may have applied a prefix; the retry replays from
		// scratch so the offending ply is re-read in a clean context.
		l.deps.Store.Reset()
		return nil
	}
	l.syncRetries = 0
	l.corroborateResume(ctx)
	l.setPhase(Playing)
	l.publish("")
	return nil
}

// corroborateResume compares the first successful synchronization of this
// process against the live record a previous run may have left behind. A
// mismatch is diagnostic, not fatal: the page is authoritative.
func (l *Loop) corroborateResume(ctx context.Context) {
	if l.resumeChecked {
		return
	}
	l.resumeChecked = true
	if l.deps.Live == nil {
		return
	}
	rec, err := l.deps.Live.Load(ctx)
	if err != nil {
		l.log.Warn("livestate_load_failed", zap.Error(err))
		return
	}
	if rec == nil {
		return
	}
	snap := l.deps.Store.Snapshot()
	if rec.NextPly == snap.NextPly && equalMoves(rec.MovesUCI, snap.MovesUCI) {
		l.log.Info("resume_corroborated",
			zap.String("previous_game_id", rec.GameID),
			zap.Int("next_ply", rec.NextPly))
		return
	}
	l.log.Warn("resume_divergence",
		zap.String("previous_game_id", rec.GameID),
		zap.Int("recorded_next_ply", rec.NextPly),
		zap.Int("observed_next_ply", snap.NextPly),
		zap.Strings("recorded_moves", rec.MovesUCI),
		zap.Strings("observed_moves", snap.MovesUCI))
	if l.deps.Capture != nil {
		l.deps.Capture.Capture(ctx, snap.NextPly, "resynchronization diverged from recorded live state")
	}
}

func equalMoves(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tick is one Playing iteration: validate, check for game over, arbitrate,
// then either decide-and-execute or absorb the opponent's move.
func (l *Loop) tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	store := l.deps.Store
	if err := l.deps.Sup.Validate(store.NextPly(), store.HistoryLen()); err != nil {
		l.log.Error("invariant_violation",
			zap.Int("next_ply", store.NextPly()),
			zap.Int("history_len", store.HistoryLen()))
		if l.deps.Capture != nil {
			l.deps.Capture.Capture(ctx, store.NextPly(), "ply counter diverged from history")
		}
		return l.forceResync(ctx)
	}

	if l.handleUnreachable(ctx) {
		return l.pace(ctx)
	}

	over, err := l.deps.Table.GameOver(ctx)
	if err != nil {
		l.noteChannelFailure(err)
		return l.pace(ctx)
	}
	if over || store.Outcome() != nchess.NoOutcome {
		l.setPhase(Finished)
		return nil
	}

	signals := l.deps.Table.TurnSignals(ctx)
	boardTurn := store.SideToMove() == l.color
	ourTurn := l.deps.Arbiter.WhoseTurn(boardTurn, signals)

	if ourTurn {
		if err := l.playOurTurn(ctx); err != nil {
			return err
		}
	} else {
		if err := l.absorbOpponent(ctx); err != nil {
			return err
		}
	}

	l.publish("")
	return l.pace(ctx)
}

func (l *Loop) playOurTurn(ctx context.Context) error {
	store := l.deps.Store

	ready, err := l.deps.Table.MoveInputReady(ctx)
	if err != nil {
		l.noteChannelFailure(err)
		return nil
	}
	if !ready {
		// Board animation or promotion dialog in flight; try next tick.
		return nil
	}

	if l.deps.Pacer != nil {
		if err := l.deps.Pacer.Thinking(ctx); err != nil {
			return err
		}
	}

	d, err := l.deps.Decider.Decide(ctx, store.NextPly(), store.MovesUCI())
	if err != nil {
		l.noteChannelFailure(err)
		return nil
	}
	if d.Kind == decision.Suggested {
		l.suggestion = d.Suggestion.MoveUCI
		l.rationale = d.Rationale
	}

	applied, err := l.deps.Exec.Execute(ctx, d, store, l.color)
	if err != nil {
		if errors.Is(err, position.ErrIllegalMove) || errors.Is(err, position.ErrNotParseable) {
			l.log.Error("own_move_rejected_locally", zap.Error(err))
			if l.deps.Capture != nil {
				l.deps.Capture.Capture(ctx, store.NextPly(), "own move rejected by local position")
			}
			return l.forceResync(ctx)
		}
		l.noteChannelFailure(err)
		return nil
	}
	if applied != nil {
		l.suggestion = ""
		l.rationale = ""
		l.recordLive(ctx)
	}
	return nil
}

func (l *Loop) absorbOpponent(ctx context.Context) error {
	store := l.deps.Store
	slot, err := l.deps.Reader.Read(ctx, store.NextPly())
	if err != nil {
		l.noteChannelFailure(err)
		return nil
	}
	if !slot.Present {
		return nil
	}

	applied, err := store.Apply(slot.Text)
	if err != nil {
		l.log.Error("opponent_move_rejected",
			zap.Int("ply", slot.Ply),
			zap.String("raw_text", slot.Text),
			zap.String("fen", store.FEN()),
			zap.Error(err))
		if l.deps.Capture != nil {
			l.deps.Capture.Capture(ctx, slot.Ply, "opponent move rejected: "+slot.Text)
		}
		return l.forceResync(ctx)
	}
	l.log.Info("opponent_move_applied",
		zap.Int("ply", applied.Ply),
		zap.String("san", applied.SAN))
	l.recordLive(ctx)
	return nil
}

// forceResync re-reconciles against the page after a semantic failure. The
// game is abandoned when the retry budget runs out.
func (l *Loop) forceResync(ctx context.Context) error {
	l.syncRetries++
	if l.syncRetries > l.cfg.MaxSyncRetries {
		return fmt.Errorf("forced resynchronization exhausted %d retries", l.cfg.MaxSyncRetries)
	}
	l.log.Warn("forced_resync", zap.Int("attempt", l.syncRetries))
	l.deps.Store.Reset()
	l.setPhase(Synchronizing)
	return nil
}

// handleUnreachable runs the escalation action once the breaker has been
// open for the configured number of ticks. Reports whether the tick should
// end early.
func (l *Loop) handleUnreachable(ctx context.Context) bool {
	if l.deps.Sup.Health().State != resilience.Unreachable {
		l.unreachable = 0
		return false
	}
	l.unreachable++
	if l.unreachable < l.cfg.EscalationTicks {
		return true
	}
	l.unreachable = 0
	l.log.Warn("channel_recovery_escalated")
	if err := l.deps.Table.Recover(ctx); err != nil {
		l.log.Error("channel_recovery_failed", zap.Error(err))
		return true
	}
	l.deps.Sup.MarkRecovered()
	l.deps.Store.Reset()
	l.setPhase(Synchronizing)
	return true
}

func (l *Loop) noteChannelFailure(err error) {
	l.log.Warn("channel_call_failed", zap.String("phase", l.phase.String()), zap.Error(err))
}

func (l *Loop) finish(ctx context.Context) error {
	store := l.deps.Store
	result := store.Outcome().String()
	method := l.deps.Table.ResultText(ctx)

	l.log.Info("game_finished",
		zap.String("game_id", l.gameID),
		zap.String("result", result),
		zap.String("method", method),
		zap.Int("moves", store.HistoryLen()))
	l.publish(result)

	if l.deps.Archive != nil {
		snap := store.Snapshot()
		err := l.deps.Archive.SaveGame(ctx, &archive.Game{
			ID:         l.gameID,
			OurColor:   colorName(l.color),
			Result:     result,
			Method:     method,
			MovesUCI:   snap.MovesUCI,
			MovesSAN:   snap.MovesSAN,
			StartedAt:  l.startedAt,
			FinishedAt: time.Now(),
		})
		if err != nil {
			l.log.Warn("archive_save_failed", zap.Error(err))
		}
	}
	if l.deps.Live != nil {
		if err := l.deps.Live.Clear(ctx); err != nil {
			l.log.Warn("livestate_clear_failed", zap.Error(err))
		}
	}

	store.Reset()
	l.setPhase(AwaitingGameStart)
	return nil
}

// abandonGame gives up on the current game after an unrecoverable step
// failure and waits for the next one.
func (l *Loop) abandonGame(ctx context.Context, cause error) {
	if l.deps.Capture != nil {
		l.deps.Capture.Capture(ctx, l.deps.Store.NextPly(), "game abandoned: "+cause.Error())
	}
	if l.deps.Live != nil {
		_ = l.deps.Live.Clear(ctx)
	}
	l.deps.Store.Reset()
	l.setPhase(AwaitingGameStart)
}

func (l *Loop) recordLive(ctx context.Context) {
	if l.deps.Live == nil {
		return
	}
	snap := l.deps.Store.Snapshot()
	err := l.deps.Live.Save(ctx, &livestate.Record{
		GameID:   l.gameID,
		Color:    colorName(l.color),
		Mode:     l.deps.Exec.Mode().String(),
		MovesUCI: snap.MovesUCI,
		NextPly:  snap.NextPly,
	})
	if err != nil {
		l.log.Warn("livestate_save_failed", zap.Error(err))
	}
}

func (l *Loop) publish(result string) {
	if l.deps.HUD == nil {
		return
	}
	snap := l.deps.Store.Snapshot()
	l.deps.HUD.Publish(hud.Snapshot{
		GameID:     l.gameID,
		Phase:      l.phase.String(),
		Mode:       l.deps.Exec.Mode().String(),
		Color:      colorName(l.color),
		FEN:        snap.FEN,
		MovesSAN:   snap.MovesSAN,
		NextPly:    snap.NextPly,
		OurTurn:    snap.Turn == l.color,
		Suggestion: l.suggestion,
		Rationale:  l.rationale,
		Health:     l.deps.Sup.Health().State.String(),
		Result:     result,
		At:         time.Now(),
	})
}

func (l *Loop) pace(ctx context.Context) error {
	if l.cfg.TickInterval > 0 {
		t := time.NewTimer(l.cfg.TickInterval)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if l.deps.Pacer == nil {
		return nil
	}
	return l.deps.Pacer.Base(ctx)
}

func colorName(c nchess.Color) string {
	switch c {
	case nchess.White:
		return "white"
	case nchess.Black:
		return "black"
	default:
		return "unknown"
	}
}

func (l *Loop) setPhase(p Phase) {
	if p == l.phase {
		return
	}
	l.log.Info("phase_transition",
		zap.String("from", l.phase.String()),
		zap.String("to", p.String()))
	l.phase = p
}
