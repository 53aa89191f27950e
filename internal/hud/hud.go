// Package hud streams immutable tick snapshots to the desktop presentation
// layer over a local websocket. The tick loop is the single producer and must
// never block on a slow consumer.
package hud

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Snapshot is the per-tick publication. Value-only; consumers never see live
// loop state.
type Snapshot struct {
	GameID     string    `json:"game_id"`
	Phase      string    `json:"phase"`
	Mode       string    `json:"mode"`
	Color      string    `json:"color"`
	FEN        string    `json:"fen"`
	MovesSAN   []string  `json:"moves_san"`
	NextPly    int       `json:"next_ply"`
	OurTurn    bool      `json:"our_turn"`
	Suggestion string    `json:"suggestion,omitempty"`
	Rationale  string    `json:"rationale,omitempty"`
	Health     string    `json:"health"`
	Result     string    `json:"result,omitempty"`
	At         time.Time `json:"at"`
}

const clientQueueDepth = 16

type client struct {
	ch chan Snapshot
}

// Broadcaster fans snapshots out to any number of websocket subscribers,
// dropping the oldest pending snapshot per client when it falls behind.
type Broadcaster struct {
	addr   string
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  *Snapshot
	server  *http.Server
}

func NewBroadcaster(addr string, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		addr:    addr,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish hands a snapshot to every subscriber without blocking.
func (b *Broadcaster) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = &s
	for c := range b.clients {
		select {
		case c.ch <- s:
		default:
			// Drop the oldest queued snapshot to make room for the newest.
			select {
			case <-c.ch:
			default:
			}
			select {
			case c.ch <- s:
			default:
			}
		}
	}
}

// Run serves until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	b.server = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = b.server.Shutdown(shutdownCtx)
	}()

	b.logger.Info("hud_listening", zap.String("addr", ln.Addr().String()))
	if err := b.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (b *Broadcaster) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Local desktop consumer only.
		InsecureSkipVerify: true,
	})
	if err != nil {
		b.logger.Warn("hud_accept_failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	c := &client{ch: make(chan Snapshot, clientQueueDepth)}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	latest := b.latest
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
	}()

	ctx := r.Context()
	if latest != nil {
		if err := b.writeSnapshot(ctx, conn, *latest); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-c.ch:
			if err := b.writeSnapshot(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) writeSnapshot(ctx context.Context, conn *websocket.Conn, s Snapshot) error {
	writeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, s)
}

// ClientCount is a test hook.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
