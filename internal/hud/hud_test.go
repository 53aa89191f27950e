package hud

import (
	"testing"
	"time"
)

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	b := NewBroadcaster("127.0.0.1:0", nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Snapshot{NextPly: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestPublishDropsOldestForSlowClient(t *testing.T) {
	b := NewBroadcaster("127.0.0.1:0", nil)
	c := &client{ch: make(chan Snapshot, clientQueueDepth)}
	b.clients[c] = struct{}{}

	total := clientQueueDepth * 3
	for i := 1; i <= total; i++ {
		b.Publish(Snapshot{NextPly: i})
	}

	if got := len(c.ch); got != clientQueueDepth {
		t.Fatalf("queued = %d, want %d", got, clientQueueDepth)
	}
	// The newest snapshot must have survived the drops.
	var last Snapshot
	for len(c.ch) > 0 {
		last = <-c.ch
	}
	if last.NextPly != total {
		t.Fatalf("newest queued snapshot = %d, want %d", last.NextPly, total)
	}
}

func TestLatestRetainedForNewClients(t *testing.T) {
	b := NewBroadcaster("127.0.0.1:0", nil)
	b.Publish(Snapshot{NextPly: 7})
	if b.latest == nil || b.latest.NextPly != 7 {
		t.Fatalf("latest = %+v", b.latest)
	}
}
