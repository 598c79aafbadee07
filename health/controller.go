// Package health is the Health Controller spec.md §4.10/§7 describes:
// a Healthy/Degraded/Recovering/Terminal state machine that tracks L2
// reachability and gates whether writes go straight through or queue
// behind the WAL.
//
// sony/gobreaker already implements the Closed/Open/HalfOpen state
// machine this needs (consecutive-failure tripping, a cooldown window,
// then a probe that either closes or re-opens the circuit) — so rather
// than hand-roll the same thing, gobreaker's states are mapped directly
// onto three of the four operational states. Terminal has no gobreaker
// analogue (it means "shutting down", not "unhealthy") and is tracked
// as a separate atomic flag layered on top.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Kirky-X/oxcache/oxlog"
)

// State is one of the four operational states spec.md §4.10 names.
type State int

const (
	Healthy State = iota
	Degraded
	Recovering
	Terminal
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Recovering:
		return "recovering"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Config carries the subset of oxconfig.TwoLevel the controller needs.
type Config struct {
	Service           string
	FailureThreshold  uint32
	RecoveryThreshold uint32
	CooldownInterval  time.Duration
	// DisableAutoRecovery mirrors enable_auto_recovery=false. When true,
	// the controller never auto-transitions out of Degraded on a
	// cooldown timer; recovery stays frozen until the process is
	// restarted with it re-enabled. Named so the zero value (false)
	// preserves the old always-auto-recovers behavior for every caller
	// that doesn't set this field.
	DisableAutoRecovery bool
}

// frozenCooldown stands in for "never" when auto-recovery is disabled:
// gobreaker treats Timeout <= 0 as its own 60s default, so there is no
// zero-value way to say "don't time out" short of a duration this long.
const frozenCooldown = 1<<63 - 1

// Controller tracks L2 health for one service.
type Controller struct {
	cb            *gobreaker.CircuitBreaker
	terminal      atomic.Bool
	log           oxlog.Logger
	replayLimiter *rate.Limiter
}

// New builds a Controller. onStateChange, if non-nil, is notified
// whenever the operational state transitions (e.g. so the Batch Writer
// can switch between direct writes and WAL spooling).
func New(cfg Config, log oxlog.Logger, onStateChange func(from, to State)) *Controller {
	if log == nil {
		log = oxlog.NewNop()
	}
	if cfg.CooldownInterval <= 0 {
		cfg.CooldownInterval = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryThreshold == 0 {
		cfg.RecoveryThreshold = 3
	}

	c := &Controller{log: log, replayLimiter: rate.NewLimiter(rate.Limit(cfg.RecoveryThreshold), int(cfg.RecoveryThreshold))}
	timeout := cfg.CooldownInterval
	if cfg.DisableAutoRecovery {
		timeout = frozenCooldown
	}
	settings := gobreaker.Settings{
		Name:        cfg.Service,
		MaxRequests: cfg.RecoveryThreshold,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Info("health: state change", oxlog.String("service", name))
			if onStateChange != nil {
				onStateChange(mapState(from), mapState(to))
			}
		},
	}
	c.cb = gobreaker.NewCircuitBreaker(settings)
	return c
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return Healthy
	case gobreaker.StateOpen:
		return Degraded
	case gobreaker.StateHalfOpen:
		return Recovering
	default:
		return Degraded
	}
}

// State reports the current operational state.
func (c *Controller) State() State {
	if c.terminal.Load() {
		return Terminal
	}
	return mapState(c.cb.State())
}

// Allow runs fn through the circuit breaker: while Degraded, fn is
// rejected without running (ErrOpenState) except for the limited probe
// requests gobreaker lets through while Recovering.
func (c *Controller) Allow(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.terminal.Load() {
		return context.Canceled
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// ReportSuccess and ReportFailure let a caller record an outcome for an
// operation that was run outside Allow (e.g. a batched write whose
// result arrives asynchronously).
func (c *Controller) ReportSuccess() {
	_, _ = c.cb.Execute(func() (interface{}, error) { return nil, nil })
}

func (c *Controller) ReportFailure() {
	_, _ = c.cb.Execute(func() (interface{}, error) { return nil, errProbe })
}

// WaitReplaySlot throttles WAL replay during Recovering so a flood of
// queued writes doesn't immediately re-trip the breaker the moment it
// allows traffic through again.
func (c *Controller) WaitReplaySlot(ctx context.Context) error {
	return c.replayLimiter.Wait(ctx)
}

// Shutdown moves the controller to Terminal, after which Allow always
// rejects rather than consulting the circuit breaker.
func (c *Controller) Shutdown() {
	c.terminal.Store(true)
}

var errProbe = &probeError{}

type probeError struct{}

func (*probeError) Error() string { return "health: reported failure" }
