// Package archive persists finished games to postgres.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Game is the finished-game record handed over by the lifecycle loop.
type Game struct {
	ID         string
	OurColor   string
	Result     string
	Method     string
	MovesUCI   []string
	MovesSAN   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

type Repository struct {
	db *sql.DB
}

// NewRepository connects and pings. An empty URL returns a nil repository so
// archiving stays optional.
func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGame upserts one finished game.
func (r *Repository) SaveGame(ctx context.Context, g *Game) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}

	pgnResult := mapResultToPGN(g.Result)
	pgn := buildPGN(g, pgnResult)

	movesUCIRaw, _ := json.Marshal(g.MovesUCI)
	movesSANRaw, _ := json.Marshal(g.MovesSAN)
	duration := g.FinishedAt.Sub(g.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO copilot_games (
	    game_id, our_color, result, result_method,
	    moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    our_color=EXCLUDED.our_color,
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, g.OurColor, strings.TrimSpace(g.Result), strings.TrimSpace(g.Method),
		string(movesUCIRaw), string(movesSANRaw), pgn,
		g.StartedAt, g.FinishedAt, duration,
	)
	return err
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white", "1-0":
		return "1-0"
	case "black", "0-1":
		return "0-1"
	case "draw", "1/2-1/2":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g *Game, pgnResult string) string {
	if g == nil {
		return ""
	}
	date := g.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"Live game\"]\n")
	fmt.Fprintf(&b, "[Site \"lichess.org\"]\n")
	fmt.Fprintf(&b, "[Date \"%s\"]\n", date.Format("2006.01.02"))
	fmt.Fprintf(&b, "[Result \"%s\"]\n", pgnResult)
	b.WriteString("\n")

	for i, san := range g.MovesSAN {
		if i%2 == 0 {
			fmt.Fprintf(&b, "%d. ", i/2+1)
		}
		b.WriteString(san)
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	b.WriteString("\n")
	return b.String()
}
