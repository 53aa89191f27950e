// Package humanize paces outgoing actions so submissions do not land at
// machine cadence. Purely a usability concern; correctness never depends on
// these delays.
package humanize

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Profile bounds one class of pause.
type Profile struct {
	Min time.Duration
	Max time.Duration
}

// Profiles groups the three pause classes: Base between polling ticks,
// Thinking before asking the engine, Moving before a submission.
type Profiles struct {
	Base     Profile
	Thinking Profile
	Moving   Profile
}

func DefaultProfiles() Profiles {
	return Profiles{
		Base:     Profile{Min: 400 * time.Millisecond, Max: 900 * time.Millisecond},
		Thinking: Profile{Min: 600 * time.Millisecond, Max: 2200 * time.Millisecond},
		Moving:   Profile{Min: 300 * time.Millisecond, Max: 1100 * time.Millisecond},
	}
}

// longPauseChance injects the occasional noticeably longer think.
const longPauseChance = 0.08

// Pacer samples jittered pauses from the configured profiles.
type Pacer struct {
	profiles Profiles
	mu       sync.Mutex
	rand     *rand.Rand
}

func NewPacer(p Profiles) *Pacer {
	return &Pacer{
		profiles: p,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *Pacer) Base(ctx context.Context) error     { return p.wait(ctx, p.profiles.Base, false) }
func (p *Pacer) Thinking(ctx context.Context) error { return p.wait(ctx, p.profiles.Thinking, true) }
func (p *Pacer) Moving(ctx context.Context) error   { return p.wait(ctx, p.profiles.Moving, false) }

// Sample returns one jittered duration without sleeping.
func (p *Pacer) Sample(profile Profile) time.Duration {
	return p.sample(profile, false)
}

func (p *Pacer) wait(ctx context.Context, profile Profile, allowLong bool) error {
	d := p.sample(profile, allowLong)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pacer) sample(profile Profile, allowLong bool) time.Duration {
	min, max := profile.Min, profile.Max
	if max < min {
		max = min
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(p.rand.Int63n(int64(span)))
	}
	if allowLong && p.rand.Float64() < longPauseChance {
		d = d*3/2 + time.Duration(p.rand.Int63n(int64(time.Second)))
	}
	return d
}
