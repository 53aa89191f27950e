// Package livestate keeps a short-lived record of the game in progress so a
// restarted process can corroborate what resynchronization reads off the page.
package livestate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyLive = "copilot:game:live"
	ttlLive = 6 * time.Hour
)

// Record is written once per applied ply.
type Record struct {
	GameID    string    `json:"game_id"`
	Color     string    `json:"color"`
	Mode      string    `json:"mode"`
	MovesUCI  []string  `json:"moves_uci"`
	NextPly   int       `json:"next_ply"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Open connects from a redis URL, returning nil when the URL is empty so the
// caller can treat the store as disabled.
func Open(url string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewStore(redis.NewClient(opt)), nil
}

func (s *Store) Save(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyLive, raw, ttlLive).Err()
}

// Load returns nil with no error when no live record exists.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	raw, err := s.rdb.Get(ctx, keyLive).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, keyLive).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }
