package execute

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Latch is the manual gate permitting a submission in gated mode. Asserted
// from the input listener goroutine, read and reset from the tick loop; the
// atomic gives the required happens-before ordering.
type Latch struct {
	flag atomic.Bool
}

func (l *Latch) Assert()        { l.flag.Store(true) }
func (l *Latch) Asserted() bool { return l.flag.Load() }
func (l *Latch) Reset()         { l.flag.Store(false) }

// KeyListener asserts the latch whenever the configured key is entered on
// the reader (normally stdin).
type KeyListener struct {
	key    string
	latch  *Latch
	in     io.Reader
	logger *zap.Logger
}

func NewKeyListener(key string, latch *Latch, in io.Reader, logger *zap.Logger) *KeyListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyListener{key: strings.ToLower(strings.TrimSpace(key)), latch: latch, in: in, logger: logger}
}

// Run blocks until the reader closes or ctx is cancelled.
func (k *KeyListener) Run(ctx context.Context) {
	scanner := bufio.NewScanner(k.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == k.key {
			k.latch.Assert()
			k.logger.Info("gate_asserted", zap.String("key", k.key))
		}
	}
}
