package loop

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	nchess "github.com/corentings/chess/v2"

	"github.com/kapu/lichess-copilot/internal/arbiter"
	"github.com/kapu/lichess-copilot/internal/channel"
	"github.com/kapu/lichess-copilot/internal/decision"
	"github.com/kapu/lichess-copilot/internal/engine"
	"github.com/kapu/lichess-copilot/internal/execute"
	"github.com/kapu/lichess-copilot/internal/hud"
	"github.com/kapu/lichess-copilot/internal/livestate"
	"github.com/kapu/lichess-copilot/internal/position"
	"github.com/kapu/lichess-copilot/internal/resilience"
)

// scriptedWorld plays both the page's read side (slots) and its game
// lifecycle surface, mutated by the test between ticks.
type scriptedWorld struct {
	mu       sync.Mutex
	slots    map[int]string
	ourTurn  bool
	gameOver bool
	color    nchess.Color
}

func (w *scriptedWorld) set(fn func(*scriptedWorld)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w)
}

func (w *scriptedWorld) Read(_ context.Context, ply int) (channel.Slot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	text, ok := w.slots[ply]
	if !ok {
		return channel.Slot{Ply: ply}, nil
	}
	return channel.Slot{Ply: ply, Text: text, Present: true}, nil
}

func (w *scriptedWorld) WaitForGameReady(context.Context) error { return nil }

func (w *scriptedWorld) DetermineColor(context.Context) (nchess.Color, error) {
	return w.color, nil
}

func (w *scriptedWorld) MoveInputReady(context.Context) (bool, error) { return true, nil }

func (w *scriptedWorld) GameOver(context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gameOver, nil
}

func (w *scriptedWorld) ResultText(context.Context) string { return "" }

func (w *scriptedWorld) TurnSignals(context.Context) []arbiter.Signal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return []arbiter.Signal{{Source: arbiter.SourceInterface, Value: w.ourTurn, Confidence: 3}}
}

func (w *scriptedWorld) Recover(context.Context) error { return nil }

type fixedOracle struct{ move string }

func (o fixedOracle) BestMove(context.Context, []string) (engine.Suggestion, error) {
	return engine.Suggestion{MoveUCI: o.move, Depth: 10}, nil
}

type recordingSubmitter struct {
	mu        sync.Mutex
	submitted []string
}

func (r *recordingSubmitter) SubmitMove(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, text)
	return nil
}

func (r *recordingSubmitter) DrawArrow(context.Context, string, nchess.Color) error { return nil }
func (r *recordingSubmitter) ClearArrow(context.Context) error                      { return nil }

type countingCapture struct {
	mu      sync.Mutex
	reasons []string
}

func (c *countingCapture) Capture(_ context.Context, _ int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons = append(c.reasons, reason)
}

func (c *countingCapture) captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reasons...)
}

type snapshotSink struct {
	mu    sync.Mutex
	snaps []hud.Snapshot
}

func (s *snapshotSink) Publish(snap hud.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func newTestLoop(t *testing.T, world *scriptedWorld, oracle engine.Oracle, sub *recordingSubmitter) (*Loop, *position.Store, *snapshotSink) {
	t.Helper()
	store := position.NewStore()
	sup := resilience.NewSupervisor(
		resilience.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond},
		3,
		func(context.Context) error { return nil },
		nil,
	)
	sink := &snapshotSink{}
	l := New(Config{}, Deps{
		Table:   world,
		Reader:  channel.NewReader(world, nil, nil),
		Arbiter: arbiter.New(nil),
		Decider: decision.New(world, oracle, nil),
		Exec:    execute.NewController(execute.Autonomous, sub, &execute.Latch{}, nil, nil),
		Sup:     sup,
		Store:   store,
		HUD:     sink,
	})
	return l, store, sink
}

// The scenario: game starts with no prior moves, we play black, opponent
// plays e4, we answer e5 autonomously, ply counter ends at 3.
func TestEndToEndAutonomousGame(t *testing.T) {
	ctx := context.Background()
	world := &scriptedWorld{slots: map[int]string{}, color: nchess.Black}
	sub := &recordingSubmitter{}
	l, store, _ := newTestLoop(t, world, fixedOracle{move: "e7e5"}, sub)

	if err := l.awaitGame(ctx); err != nil {
		t.Fatalf("awaitGame: %v", err)
	}
	if l.Phase() != Synchronizing || l.Color() != nchess.Black {
		t.Fatalf("phase=%v color=%v", l.Phase(), l.Color())
	}

	if err := l.synchronize(ctx); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if l.Phase() != Playing || store.NextPly() != 1 {
		t.Fatalf("after sync: phase=%v ply=%d", l.Phase(), store.NextPly())
	}

	// Opponent has not moved yet; nothing happens.
	if err := l.tick(ctx); err != nil {
		t.Fatalf("idle tick: %v", err)
	}
	if store.HistoryLen() != 0 {
		t.Fatal("tick mutated position before any move")
	}

	// Opponent plays e4; the interface flips to our turn. The decision path
	// must first absorb the observed move, not suggest over it.
	world.set(func(w *scriptedWorld) {
		w.slots[1] = "e4"
		w.ourTurn = true
	})
	if err := l.tick(ctx); err != nil {
		t.Fatalf("absorb tick: %v", err)
	}
	if store.NextPly() != 2 || len(sub.submitted) != 0 {
		t.Fatalf("after absorb: ply=%d submitted=%v", store.NextPly(), sub.submitted)
	}

	// Still our turn: now the engine answers e5 and it is submitted.
	if err := l.tick(ctx); err != nil {
		t.Fatalf("suggest tick: %v", err)
	}
	if store.NextPly() != 3 {
		t.Fatalf("ply counter = %d, want 3", store.NextPly())
	}
	if len(sub.submitted) != 1 || sub.submitted[0] != "e7e5" {
		t.Fatalf("submitted = %v", sub.submitted)
	}
	san := store.MovesSAN()
	if len(san) != 2 || san[0] != "e4" || san[1] != "e5" {
		t.Fatalf("history = %v", san)
	}

	// Invariant must hold at every tick boundary.
	if store.NextPly()-1 != store.HistoryLen() {
		t.Fatalf("ply/history invariant broken: %d vs %d", store.NextPly(), store.HistoryLen())
	}
}

func TestGameOverTransitionsToFinishedAndResets(t *testing.T) {
	ctx := context.Background()
	world := &scriptedWorld{slots: map[int]string{1: "e4"}, color: nchess.Black}
	sub := &recordingSubmitter{}
	l, store, sink := newTestLoop(t, world, fixedOracle{move: "e7e5"}, sub)

	if err := l.awaitGame(ctx); err != nil {
		t.Fatalf("awaitGame: %v", err)
	}
	if err := l.synchronize(ctx); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if store.NextPly() != 2 {
		t.Fatalf("sync replayed to ply %d", store.NextPly())
	}

	world.set(func(w *scriptedWorld) { w.gameOver = true })
	if err := l.tick(ctx); err != nil {
		t.Fatalf("game over tick: %v", err)
	}
	if l.Phase() != Finished {
		t.Fatalf("phase = %v", l.Phase())
	}

	if err := l.finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if l.Phase() != AwaitingGameStart {
		t.Fatalf("phase after finish = %v", l.Phase())
	}
	if store.HistoryLen() != 0 || store.NextPly() != 1 {
		t.Fatal("store not reset at game boundary")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.snaps) == 0 {
		t.Fatal("no snapshots published")
	}
}

// A semantic failure mid-synchronization must not leave the applied prefix
// behind: the retry replays the whole list from scratch.
func TestSynchronizeRetryReplaysFromScratch(t *testing.T) {
	ctx := context.Background()
	world := &scriptedWorld{slots: map[int]string{1: "e4", 2: "Zz9"}, color: nchess.Black}
	l, store, _ := newTestLoop(t, world, fixedOracle{move: "e7e5"}, &recordingSubmitter{})

	if err := l.awaitGame(ctx); err != nil {
		t.Fatalf("awaitGame: %v", err)
	}
	if err := l.synchronize(ctx); err != nil {
		t.Fatalf("first synchronize should schedule a retry, got: %v", err)
	}
	if l.Phase() != Synchronizing {
		t.Fatalf("phase = %v, want Synchronizing", l.Phase())
	}
	if store.HistoryLen() != 0 || store.NextPly() != 1 {
		t.Fatalf("partial prefix survived the failed sync: ply=%d history=%d",
			store.NextPly(), store.HistoryLen())
	}

	// The page heals; the retry must replay e4 without tripping over the
	// previously applied copy.
	world.set(func(w *scriptedWorld) { w.slots[2] = "e5" })
	if err := l.synchronize(ctx); err != nil {
		t.Fatalf("second synchronize: %v", err)
	}
	if l.Phase() != Playing || store.NextPly() != 3 {
		t.Fatalf("after retry: phase=%v ply=%d", l.Phase(), store.NextPly())
	}
	san := store.MovesSAN()
	if len(san) != 2 || san[0] != "e4" || san[1] != "e5" {
		t.Fatalf("history after retry = %v", san)
	}
}

func TestResumeCorroboratedAgainstLiveRecord(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	live, err := livestate.Open("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("livestate.Open: %v", err)
	}
	if err := live.Save(ctx, &livestate.Record{
		GameID:   "prev-run",
		Color:    "black",
		MovesUCI: []string{"e2e4"},
		NextPly:  2,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	world := &scriptedWorld{slots: map[int]string{1: "e4"}, color: nchess.Black}
	l, _, _ := newTestLoop(t, world, fixedOracle{move: "e7e5"}, &recordingSubmitter{})
	cap := &countingCapture{}
	l.deps.Live = live
	l.deps.Capture = cap

	if err := l.awaitGame(ctx); err != nil {
		t.Fatalf("awaitGame: %v", err)
	}
	if err := l.synchronize(ctx); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if got := cap.captured(); len(got) != 0 {
		t.Fatalf("matching record triggered captures: %v", got)
	}
}

func TestResumeDivergenceIsCaptured(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	live, err := livestate.Open("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("livestate.Open: %v", err)
	}
	if err := live.Save(ctx, &livestate.Record{
		GameID:   "prev-run",
		Color:    "black",
		MovesUCI: []string{"e2e4", "e7e5", "g1f3"},
		NextPly:  4,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	world := &scriptedWorld{slots: map[int]string{1: "e4"}, color: nchess.Black}
	l, _, _ := newTestLoop(t, world, fixedOracle{move: "e7e5"}, &recordingSubmitter{})
	cap := &countingCapture{}
	l.deps.Live = live
	l.deps.Capture = cap

	if err := l.awaitGame(ctx); err != nil {
		t.Fatalf("awaitGame: %v", err)
	}
	if err := l.synchronize(ctx); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	got := cap.captured()
	if len(got) != 1 || !strings.Contains(got[0], "diverged") {
		t.Fatalf("captures = %v, want one divergence capture", got)
	}
	if l.Phase() != Playing {
		t.Fatalf("divergence must stay diagnostic, phase = %v", l.Phase())
	}

	// The check runs once per process, not once per game.
	l.phase = AwaitingGameStart
	if err := l.awaitGame(ctx); err != nil {
		t.Fatalf("second awaitGame: %v", err)
	}
	if err := l.synchronize(ctx); err != nil {
		t.Fatalf("second synchronize: %v", err)
	}
	if got := cap.captured(); len(got) != 1 {
		t.Fatalf("resume check repeated: %v", got)
	}
}

func TestForcedResyncBudget(t *testing.T) {
	world := &scriptedWorld{slots: map[int]string{}, color: nchess.White}
	l, store, _ := newTestLoop(t, world, fixedOracle{move: "e2e4"}, &recordingSubmitter{})
	l.phase = Playing

	mustApply(t, store, "e4")

	for i := 0; i < l.cfg.MaxSyncRetries; i++ {
		if err := l.forceResync(context.Background()); err != nil {
			t.Fatalf("resync %d rejected early: %v", i+1, err)
		}
		if l.Phase() != Synchronizing {
			t.Fatalf("resync %d: phase = %v", i+1, l.Phase())
		}
		if store.HistoryLen() != 0 {
			t.Fatal("resync did not reset the store")
		}
		l.phase = Playing
	}
	if err := l.forceResync(context.Background()); err == nil {
		t.Fatal("exhausted resync budget must error")
	}
}

func mustApply(t *testing.T, store *position.Store, text string) {
	t.Helper()
	if _, err := store.Apply(text); err != nil {
		t.Fatalf("apply %q: %v", text, err)
	}
}
