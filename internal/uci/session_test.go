package uci

import (
	"reflect"
	"testing"
	"time"
)

func TestBuildPositionCommand(t *testing.T) {
	if got := buildPositionCommand(nil); got != "position startpos\n" {
		t.Fatalf("empty history: %q", got)
	}
	got := buildPositionCommand([]string{"e2e4", "e7e5"})
	if got != "position startpos moves e2e4 e7e5\n" {
		t.Fatalf("with history: %q", got)
	}
}

func TestBuildGoCommand(t *testing.T) {
	if _, err := buildGoCommand(Limits{}); err == nil {
		t.Fatal("no limits must error")
	}
	got, err := buildGoCommand(Limits{Depth: 12})
	if err != nil || got != "go depth 12\n" {
		t.Fatalf("depth: %q %v", got, err)
	}
	got, err = buildGoCommand(Limits{MoveTimeMillis: 1500})
	if err != nil || got != "go movetime 1500\n" {
		t.Fatalf("movetime: %q %v", got, err)
	}
}

func TestSearchTimeoutBounds(t *testing.T) {
	if d := searchTimeout(Limits{Depth: 2}); d != 6*time.Second {
		t.Fatalf("shallow depth floor: %v", d)
	}
	if d := searchTimeout(Limits{Depth: 99}); d != 20*time.Second {
		t.Fatalf("deep depth ceiling: %v", d)
	}
}

func TestParseInfo(t *testing.T) {
	line := "info depth 18 seldepth 24 multipv 1 score cp 34 nodes 123456 pv e2e4 e7e5 g1f3"
	r, ok := parseInfo(line)
	if !ok {
		t.Fatal("expected parse")
	}
	if r.Depth != 18 || r.EvalCP != 34 || r.Mate {
		t.Fatalf("parsed %+v", r)
	}
	if !reflect.DeepEqual(r.Principal, []string{"e2e4", "e7e5", "g1f3"}) {
		t.Fatalf("pv %v", r.Principal)
	}

	r, ok = parseInfo("info depth 12 score mate -3 pv h7h8q")
	if !ok || !r.Mate || r.EvalCP != -30000 {
		t.Fatalf("mate parse: %+v ok=%v", r, ok)
	}

	if _, ok := parseInfo("info depth 5 currmove e2e4 currmovenumber 1"); ok {
		t.Fatal("line without pv must not parse")
	}
}
