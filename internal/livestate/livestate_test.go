package livestate

import (
	"context"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestSaveLoadClearRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &Record{
		GameID:   "6b1f2a9c",
		Color:    "black",
		Mode:     "autonomous",
		MovesUCI: []string{"e2e4", "e7e5"},
		NextPly:  3,
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil after Save")
	}
	if got.GameID != rec.GameID || got.NextPly != 3 || !reflect.DeepEqual(got.MovesUCI, rec.MovesUCI) {
		t.Fatalf("loaded %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not stamped")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load after Clear: %v", err)
	}
	if got != nil {
		t.Fatalf("record survived Clear: %+v", got)
	}
}

func TestLoadMissingIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(context.Background())
	if err != nil || got != nil {
		t.Fatalf("empty store: rec=%v err=%v", got, err)
	}
}

func TestOpenEmptyURLDisables(t *testing.T) {
	s, err := Open("")
	if err != nil || s != nil {
		t.Fatalf("empty url: store=%v err=%v", s, err)
	}
}
