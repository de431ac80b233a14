package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/dispatch"
	"github.com/ventwise/dab-controller/internal/eval"
	"github.com/ventwise/dab-controller/internal/gate"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/metrics"
	"github.com/ventwise/dab-controller/internal/update"
)

// #region engine
// Engine is the DAB controller. All model and cycle state is mutated on one
// execution context: the Run loop, or the caller's goroutine under loopMu when
// Run is not active.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	gate       *gate.Gate
	harness    *eval.EvalHarness
	dispatcher *dispatch.Dispatcher
	machine    *cycle.Machine
	scheduler  *cycle.Scheduler

	models    *update.Models
	strategy  *metrics.StrategyMetrics
	ventStats *metrics.VentStats

	circuits    map[string]hvac.Circuit // by thermostat id
	ventCircuit map[string]string       // vent id -> thermostat id
	books       map[string]*ventBook
	manual      map[string]int
	snapshot    hvac.Snapshot

	loopMu  sync.Mutex
	running atomic.Bool
	reqs    chan request
	due     chan string
	thermo  chan hvac.Thermostat

	viewMu sync.RWMutex
	view   View

	ready     chan struct{}
	readyOnce sync.Once
}

type request struct {
	fn   func(ctx context.Context) error
	done chan error
}

// New builds an engine and loads the persisted snapshot, if any.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if deps.Device == nil {
		return nil, errors.New("engine: device adapter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		logger:      logger.With("component", "engine"),
		now:         deps.Clock,
		gate:        gate.NewGate(cfg.Gate),
		harness:     eval.NewEvalHarness(cfg.Eval),
		machine:     cycle.NewMachine(cfg.Gate.Window),
		models:      update.NewModels(),
		strategy:    metrics.NewStrategyMetrics(),
		ventStats:   metrics.NewVentStats(metrics.DefaultVentStatsWindow),
		circuits:    map[string]hvac.Circuit{},
		ventCircuit: map[string]string{},
		books:       map[string]*ventBook{},
		manual:      map[string]int{},
		reqs:        make(chan request),
		due:         make(chan string, 64),
		thermo:      make(chan hvac.Thermostat, 64),
		ready:       make(chan struct{}),
	}

	d, err := dispatch.New(deps.Device, cfg.Dispatch, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.dispatcher = d

	for _, c := range cfg.Circuits {
		if c.ThermostatID == "" {
			return nil, fmt.Errorf("%w: circuit without thermostat", ErrValidation)
		}
		e.circuits[c.ThermostatID] = c
		for _, v := range c.VentIDs {
			if owner, ok := e.ventCircuit[v]; ok && owner != c.ThermostatID {
				return nil, fmt.Errorf("%w: vent %s assigned to %s and %s", ErrValidation, v, owner, c.ThermostatID)
			}
			e.ventCircuit[v] = c.ThermostatID
		}
	}

	e.scheduler = cycle.NewScheduler(func(id string) {
		select {
		case e.due <- id:
		default:
			e.logger.Warn("finalize queue full", "circuit", id)
		}
	})

	if deps.Store != nil {
		snap, err := deps.Store.Load()
		if err != nil {
			return nil, fmt.Errorf("engine: load snapshot: %w", err)
		}
		if snap != nil {
			snap.Normalize()
			e.models = snap.Models
			e.strategy = snap.Strategy
			e.logger.Info("snapshot loaded", "vents", len(e.models.VentRates), "strategies", len(e.strategy.Entries))
		}
	}
	e.publishView()
	return e, nil
}

// #endregion engine

// #region run
// Run drives the control loop until ctx is cancelled. The poll interval is
// short while any circuit runs and long while all are idle.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}
	defer e.running.Store(false)
	defer e.scheduler.Stop()

	e.locked(func() { e.start(ctx) })

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("control loop stopped")
			return ctx.Err()

		case <-timer.C:
			e.locked(func() {
				if err := e.tick(ctx); err != nil {
					e.logger.Warn("poll failed", "err", err)
				}
			})
			timer.Reset(e.pollInterval())

		case t := <-e.thermo:
			e.locked(func() { e.handleThermostat(ctx, t) })
			resetTimer(timer, e.pollInterval())

		case id := <-e.due:
			e.locked(func() { e.finalizePending(ctx, id) })

		case r := <-e.reqs:
			var err error
			e.locked(func() { err = r.fn(ctx) })
			r.done <- err
		}
	}
}

func (e *Engine) start(ctx context.Context) {
	if e.cfg.Enabled && e.cfg.ForceStructureManual && !e.cfg.ManualVents {
		if err := e.deps.Device.SetStructureMode(ctx, "manual"); err != nil {
			e.logger.Warn("force structure manual failed", "err", err)
		} else {
			e.logger.Info("structure mode forced to manual")
		}
	}
}

func (e *Engine) pollInterval() time.Duration {
	if e.machine.AnyRunning() {
		return e.cfg.PollActive
	}
	return e.cfg.PollIdle
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (e *Engine) locked(fn func()) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	fn()
	e.publishView()
}

// do runs fn on the control loop when it is active, otherwise inline.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !e.running.Load() {
		var err error
		e.locked(func() { err = fn(ctx) })
		return err
	}
	r := request{fn: fn, done: make(chan error, 1)}
	select {
	case e.reqs <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyThermostat queues a thermostat state change for the control loop.
func (e *Engine) NotifyThermostat(t hvac.Thermostat) {
	select {
	case e.thermo <- t:
	default:
		e.logger.Warn("thermostat event dropped", "thermostat", t.ID)
	}
}

// Close cancels pending finalize timers.
func (e *Engine) Close() {
	e.scheduler.Stop()
}

// #endregion run

// #region circuits
func (e *Engine) circuitIDs() []string {
	ids := make([]string, 0, len(e.circuits))
	for id := range e.circuits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) book(ventID string) *ventBook {
	b, ok := e.books[ventID]
	if !ok {
		b = &ventBook{}
		e.books[ventID] = b
	}
	return b
}

// #endregion circuits
