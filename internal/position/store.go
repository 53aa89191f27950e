// Package position owns the authoritative local game state. The lifecycle
// loop is its single writer; everyone else reads immutable snapshots.
package position

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	// ErrNotParseable means the text does not look like move notation at all.
	ErrNotParseable = errors.New("move text not parseable")
	// ErrIllegalMove means the text parsed but names no legal move here.
	ErrIllegalMove = errors.New("move illegal in current position")
)

var (
	sanPattern = regexp.MustCompile(`^(O-O(-O)?|[KQRBN]?[a-h]?[1-8]?x?[a-h][1-8](=[QRBN])?)[+#]?$`)
	uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
)

// AppliedMove describes one committed move.
type AppliedMove struct {
	Ply int
	SAN string
	UCI string
	FEN string
}

// Store wraps a chess game with a ply counter and atomic apply semantics.
// A failed Apply performs no mutation of any kind.
type Store struct {
	game    *nchess.Game
	nextPly int
}

func NewStore() *Store {
	return &Store{game: nchess.NewGame(), nextPly: 1}
}

// Apply parses text (SAN preferred, UCI accepted) against the current
// position and commits it. The ply counter advances only on success.
func (s *Store) Apply(text string) (AppliedMove, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return AppliedMove{}, fmt.Errorf("%w: empty text", ErrNotParseable)
	}

	pos := s.game.Position()

	mv, err := nchess.AlgebraicNotation{}.Decode(pos, trimmed)
	if err != nil {
		mv, err = nchess.UCINotation{}.Decode(pos, strings.ToLower(trimmed))
	}
	if err != nil {
		if sanPattern.MatchString(trimmed) || uciPattern.MatchString(strings.ToLower(trimmed)) {
			return AppliedMove{}, fmt.Errorf("%w: %q", ErrIllegalMove, trimmed)
		}
		return AppliedMove{}, fmt.Errorf("%w: %q", ErrNotParseable, trimmed)
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := s.game.Move(mv, nil); err != nil {
		return AppliedMove{}, fmt.Errorf("%w: %q: %v", ErrIllegalMove, trimmed, err)
	}

	applied := AppliedMove{
		Ply: s.nextPly,
		SAN: san,
		UCI: mv.String(),
		FEN: s.game.FEN(),
	}
	s.nextPly++
	return applied, nil
}

// Reset discards all state and restores the initial position. Called only by
// the lifecycle loop at confirmed game boundaries.
func (s *Store) Reset() {
	s.game = nchess.NewGame()
	s.nextPly = 1
}

// NextPly is the ply index the next applied move will get.
func (s *Store) NextPly() int { return s.nextPly }

// HistoryLen is the number of committed moves.
func (s *Store) HistoryLen() int { return len(s.game.Moves()) }

// SideToMove returns the color to move in the current position.
func (s *Store) SideToMove() nchess.Color { return s.game.Position().Turn() }

// Outcome reports the game result so far (NoOutcome while in progress).
func (s *Store) Outcome() nchess.Outcome { return s.game.Outcome() }

// FEN serializes the current position.
func (s *Store) FEN() string { return s.game.FEN() }

// MovesUCI returns the committed moves in UCI form, oldest first. This is the
// exact list fed to the engine oracle as "position startpos moves ...".
func (s *Store) MovesUCI() []string {
	moves := s.game.Moves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, mv.String())
	}
	return out
}

// MovesSAN returns the committed moves in SAN, oldest first.
func (s *Store) MovesSAN() []string {
	moves := s.game.Moves()
	positions := s.game.Positions()
	out := make([]string, 0, len(moves))
	for i, mv := range moves {
		if i < len(positions) {
			out = append(out, nchess.AlgebraicNotation{}.Encode(positions[i], mv))
		}
	}
	return out
}

// Board returns the current board for rendering.
func (s *Store) Board() *nchess.Board { return s.game.Position().Board() }

// Snapshot is an immutable copy of the store, safe to hand across goroutines.
type Snapshot struct {
	FEN      string
	MovesSAN []string
	MovesUCI []string
	Turn     nchess.Color
	Outcome  nchess.Outcome
	NextPly  int
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		FEN:      s.FEN(),
		MovesSAN: s.MovesSAN(),
		MovesUCI: s.MovesUCI(),
		Turn:     s.SideToMove(),
		Outcome:  s.Outcome(),
		NextPly:  s.nextPly,
	}
}
