package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// HealthState tracks the external channel through failure escalation.
type HealthState int

const (
	Healthy HealthState = iota
	Degraded
	Unreachable
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ChannelHealth is owned by the supervisor; the loop reads it each tick.
type ChannelHealth struct {
	ConsecutiveFailures int
	LastSuccessAt       time.Time
	State               HealthState
}

var (
	// ErrCircuitOpen is returned instead of attempting a call while the
	// channel is unreachable and the probe still fails.
	ErrCircuitOpen = errors.New("channel circuit open")
	// ErrInvariant reports a ply counter / history length mismatch.
	ErrInvariant = errors.New("ply counter out of sync with history")
)

// Probe is a cheap liveness check against the channel (current-URL fetch).
type Probe func(context.Context) error

// Supervisor wraps channel operations with per-call retry and drives the
// Healthy -> Degraded -> Unreachable state machine.
type Supervisor struct {
	policy    Policy
	threshold int
	probe     Probe
	health    ChannelHealth
	logger    *zap.Logger
}

// NewSupervisor builds a supervisor. threshold is the number of consecutive
// failed (post-retry) calls that trips Healthy into Degraded.
func NewSupervisor(policy Policy, threshold int, probe Probe, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 5
	}
	return &Supervisor{
		policy:    policy.normalized(),
		threshold: threshold,
		probe:     probe,
		health:    ChannelHealth{State: Healthy, LastSuccessAt: time.Now()},
		logger:    logger,
	}
}

// Do runs op under the supervisor's retry policy, feeding the health state
// machine. While Unreachable it refuses the call unless the probe passes,
// in which case the circuit closes again.
func (s *Supervisor) Do(ctx context.Context, name string, op func(context.Context) error) error {
	if s.health.State == Unreachable {
		if err := s.runProbe(ctx); err != nil {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, name)
		}
		s.markHealthy("probe_recovered")
	}

	err := Retry(ctx, s.policy, op)
	if err == nil {
		s.onSuccess()
		return nil
	}
	if s.policy.IsTransient != nil && s.policy.IsTransient(err) {
		s.onTransientFailure(ctx, name, err)
	}
	return err
}

// Health returns a copy of the current channel health.
func (s *Supervisor) Health() ChannelHealth { return s.health }

// MarkRecovered closes the circuit after an external recovery action (page
// refresh, session rebuild) succeeded.
func (s *Supervisor) MarkRecovered() { s.markHealthy("escalated_recovery") }

// Validate checks the standing invariant between the ply counter and the
// committed history. Called once per tick; a violation triggers forced
// resynchronization, never silent correction.
func (s *Supervisor) Validate(nextPly, historyLen int) error {
	if nextPly-1 != historyLen {
		return fmt.Errorf("%w: nextPly=%d history=%d", ErrInvariant, nextPly, historyLen)
	}
	return nil
}

func (s *Supervisor) onSuccess() {
	s.health.ConsecutiveFailures = 0
	s.health.LastSuccessAt = time.Now()
	if s.health.State != Healthy {
		s.markHealthy("call_succeeded")
	}
}

func (s *Supervisor) onTransientFailure(ctx context.Context, name string, err error) {
	s.health.ConsecutiveFailures++
	switch s.health.State {
	case Healthy:
		if s.health.ConsecutiveFailures >= s.threshold {
			s.health.State = Degraded
			s.logger.Warn("channel_degraded",
				zap.String("op", name),
				zap.Int("consecutive_failures", s.health.ConsecutiveFailures),
				zap.Error(err))
		}
	case Degraded:
		if s.runProbe(ctx) != nil {
			s.health.State = Unreachable
			s.logger.Error("channel_unreachable",
				zap.String("op", name),
				zap.Int("consecutive_failures", s.health.ConsecutiveFailures),
				zap.Time("last_success", s.health.LastSuccessAt))
		}
	}
}

func (s *Supervisor) runProbe(ctx context.Context) error {
	if s.probe == nil {
		return errors.New("no probe configured")
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.probe(probeCtx)
}

func (s *Supervisor) markHealthy(reason string) {
	prev := s.health.State
	s.health.State = Healthy
	s.health.ConsecutiveFailures = 0
	s.health.LastSuccessAt = time.Now()
	if prev != Healthy {
		s.logger.Info("channel_recovered", zap.String("from", prev.String()), zap.String("reason", reason))
	}
}
