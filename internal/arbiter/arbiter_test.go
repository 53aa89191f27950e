package arbiter

import "testing"

func TestInterfaceWinsOverBoard(t *testing.T) {
	a := New(nil)
	got := a.WhoseTurn(false, []Signal{
		{Source: SourceClock, Value: true, Confidence: 2},
	})
	if !got {
		t.Fatalf("interface signal should win over board")
	}
}

func TestBoardFallbackWhenNoInterfaceAnswer(t *testing.T) {
	a := New(nil)
	if got := a.WhoseTurn(true, nil); !got {
		t.Fatalf("board fallback lost")
	}
	// Zero-confidence signals give no answer.
	got := a.WhoseTurn(true, []Signal{
		{Source: SourceTextHint, Value: false, Confidence: 0},
	})
	if !got {
		t.Fatalf("zero-confidence signal should be ignored")
	}
}

func TestHighestConfidenceSignalWins(t *testing.T) {
	a := New(nil)
	got := a.WhoseTurn(false, []Signal{
		{Source: SourceTextHint, Value: false, Confidence: 1},
		{Source: SourceInterface, Value: true, Confidence: 3},
		{Source: SourceClock, Value: false, Confidence: 2},
	})
	if !got {
		t.Fatalf("confidence-3 interface signal should win")
	}
}

func TestBoardSourceSignalsIgnoredInInterfaceSet(t *testing.T) {
	a := New(nil)
	got := a.WhoseTurn(true, []Signal{
		{Source: SourceBoard, Value: false, Confidence: 5},
	})
	if !got {
		t.Fatalf("board-source entries must not masquerade as interface signals")
	}
}
