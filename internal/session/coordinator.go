package session

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"contactbot/internal/bus"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// forceAfter is the signal count that exits without waiting for shutdown.
const forceAfter = 3

const defaultShutdownTimeout = 60 * time.Second

// Step is one named shutdown action.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Timeout time.Duration  // bound for all steps together
	Exit    func(code int) // defaults to os.Exit
	Events  *bus.EventBus
	Logger  *slog.Logger
}

// Coordinator runs the shutdown steps exactly once, on the first interrupt
// signal or fatal session error.
type Coordinator struct {
	cfg    CoordinatorConfig
	logger *slog.Logger

	mu    sync.Mutex
	steps []Step

	state   atomic.Int32
	signals atomic.Int32
	done    chan struct{}
}

// NewCoordinator creates a Coordinator in the running state.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultShutdownTimeout
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	return &Coordinator{cfg: cfg, logger: cfg.Logger, done: make(chan struct{})}
}

// Add appends a step. Steps run in the order they were added.
func (c *Coordinator) Add(name string, run func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, Step{Name: name, Run: run})
}

// State returns the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Done is closed once every step has run.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Shutdown runs all steps in order and reports whether this call did so.
// Concurrent and repeated calls return false immediately. A failing step is
// logged and the remaining steps still run.
func (c *Coordinator) Shutdown(reason string) bool {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return false
	}
	c.logger.Info("shutting down", "reason", reason)

	c.mu.Lock()
	steps := append([]Step(nil), c.steps...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	for _, step := range steps {
		start := time.Now()
		err := step.Run(ctx)
		if err != nil {
			c.logger.Error("shutdown step failed", "step", step.Name, "error", err)
		} else {
			c.logger.Info("shutdown step done", "step", step.Name, "duration", time.Since(start))
		}
		c.cfg.Events.Emit(bus.Event{
			Type:    bus.EventShutdownStep,
			Source:  "shutdown",
			Payload: map[string]any{"step": step.Name, "ok": err == nil},
		})
	}

	c.state.Store(int32(StateTerminated))
	close(c.done)
	c.logger.Info("shutdown complete")
	return true
}

// HandleSignal counts interrupts. The first two start a graceful shutdown,
// which runs once; the third exits with status 1 at once.
func (c *Coordinator) HandleSignal(sig os.Signal) {
	n := c.signals.Add(1)
	c.logger.Info("signal received", "signal", sig, "count", n)
	if n >= forceAfter {
		c.logger.Warn("repeated interrupts, exiting immediately")
		c.cfg.Exit(1)
		return
	}
	go c.Shutdown("signal " + sig.String())
}

// Notify feeds sigs to HandleSignal until ctx is done.
func (c *Coordinator) Notify(ctx context.Context, sigs ...os.Signal) {
	ch := make(chan os.Signal, forceAfter)
	signal.Notify(ch, sigs...)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				c.HandleSignal(sig)
			}
		}
	}()
}
