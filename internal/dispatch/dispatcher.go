package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// #region types
// ApertureSetter is the slice of the device adapter the dispatcher needs.
type ApertureSetter interface {
	SetVentAperture(ctx context.Context, ventID string, percent int) error
}

// Command asks for one vent to move to Percent.
type Command struct {
	VentID   string
	Percent  int
	Previous *int // last known aperture, for movement accounting
}

// Outcome reports what happened to one command.
type Outcome struct {
	VentID   string
	Percent  int
	Movement int
	Err      error
	Duration time.Duration
}

// OK reports whether the device accepted the command.
func (o Outcome) OK() bool { return o.Err == nil }

// Config tunes the dispatcher.
type Config struct {
	MinInterval time.Duration // minimum spacing between calls to one device
	Concurrency int           // parallel device calls per apply
	CallTimeout time.Duration // per-call deadline, rate-limit wait included
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		MinInterval: time.Second,
		Concurrency: 8,
		CallTimeout: 10 * time.Second,
	}
}

// ErrInvalidRate is returned for a non-positive device call rate.
var ErrInvalidRate = errors.New("dispatch: rate must be positive")

// #endregion types

// #region dispatcher
// Dispatcher sends aperture commands with per-device rate limiting. One
// failing vent never stops the others.
type Dispatcher struct {
	cfg    Config
	setter ApertureSetter
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a dispatcher. MinInterval must be positive.
func New(setter ApertureSetter, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.MinInterval <= 0 {
		return nil, fmt.Errorf("min interval %s: %w", cfg.MinInterval, ErrInvalidRate)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		setter:   setter,
		logger:   logger.With("component", "dispatch"),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (d *Dispatcher) limiter(ventID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[ventID]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.cfg.MinInterval), 1)
		d.limiters[ventID] = l
	}
	return l
}

// #endregion dispatcher

// #region apply
// Apply issues every command concurrently and returns one outcome per command
// in input order. Errors are reported in the outcomes, never returned.
func (d *Dispatcher) Apply(ctx context.Context, cmds []Command) []Outcome {
	outcomes := make([]Outcome, len(cmds))
	if len(cmds) == 0 {
		return outcomes
	}
	batch := uuid.NewString()

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	for i, cmd := range cmds {
		i, cmd := i, cmd
		g.Go(func() error {
			outcomes[i] = d.send(ctx, batch, cmd)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	if failed > 0 {
		d.logger.Warn("partial apply", "batch", batch, "failed", failed, "total", len(cmds))
	}
	return outcomes
}

func (d *Dispatcher) send(ctx context.Context, batch string, cmd Command) Outcome {
	start := time.Now()
	out := Outcome{VentID: cmd.VentID, Percent: cmd.Percent}

	callCtx := ctx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	if err := d.limiter(cmd.VentID).Wait(callCtx); err != nil {
		out.Err = fmt.Errorf("rate limit wait for %s: %w", cmd.VentID, err)
	} else if err := d.setter.SetVentAperture(callCtx, cmd.VentID, cmd.Percent); err != nil {
		out.Err = fmt.Errorf("set aperture %s=%d: %w", cmd.VentID, cmd.Percent, err)
	}
	out.Duration = time.Since(start)

	if out.Err != nil {
		d.logger.Error("vent command failed", "batch", batch, "vent", cmd.VentID, "percent", cmd.Percent, "err", out.Err)
		return out
	}
	if cmd.Previous != nil {
		out.Movement = abs(cmd.Percent - *cmd.Previous)
	} else {
		out.Movement = cmd.Percent
	}
	d.logger.Debug("vent commanded", "batch", batch, "vent", cmd.VentID, "percent", cmd.Percent, "took", out.Duration)
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// #endregion apply
