// Package session runs one live bridge between the messaging daemon and the
// router, and coordinates its shutdown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"contactbot/internal/bus"
	"contactbot/internal/channel"
	"contactbot/internal/daemon"
	"contactbot/internal/domain"
	"contactbot/internal/protocol"
	"contactbot/internal/router"
)

// Daemon is the supervised subprocess.
type Daemon interface {
	UpdateProfile(ctx context.Context)
	Start(ctx context.Context) (*daemon.Channel, error)
	Wait(ctx context.Context) error
	Terminate(graceful bool)
}

// SenderSlot receives the live session's sender while it runs.
type SenderSlot interface {
	SetSender(s channel.Sender)
}

// Config configures a Session.
type Config struct {
	Identity string // bot phone number
	Owner    string // holder recorded when claiming the identity
	DataDir  string // daemon account state directory

	Accounts domain.AccountStore
	Daemon   Daemon
	Router   router.Config // Input is supplied by the session
	Inbound  SenderSlot    // optional

	Events *bus.EventBus
	Logger *slog.Logger
}

// Session owns the queues and goroutines between one daemon process and
// one router.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	router  *router.Router
	claimed atomic.Bool
}

// New creates a Session. Nothing runs until Run.
func New(cfg Config) *Session {
	if cfg.Router.Events == nil {
		cfg.Router.Events = cfg.Events
	}
	if cfg.Router.Logger == nil {
		cfg.Router.Logger = cfg.Logger
	}
	return &Session{cfg: cfg, logger: cfg.Logger}
}

// Router returns the running router, or nil before Run.
func (s *Session) Router() *router.Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router
}

// Claimed reports whether Run has claimed the identity. Account state must
// only be uploaded or freed by the session that claimed it.
func (s *Session) Claimed() bool { return s.claimed.Load() }

// Run claims the identity, restores its state, launches the daemon and
// bridges it to the router until the daemon's stream ends, a write fails,
// or ctx is done. Cancellation by ctx returns nil; any other end is an
// error the caller should treat as fatal.
func (s *Session) Run(ctx context.Context) error {
	id := s.cfg.Identity
	if err := s.cfg.Accounts.Claim(ctx, id, s.cfg.Owner); err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	s.claimed.Store(true)
	if err := s.cfg.Accounts.Download(ctx, id, s.cfg.DataDir); err != nil {
		return fmt.Errorf("restore account state: %w", err)
	}

	s.cfg.Daemon.UpdateProfile(ctx)
	ch, err := s.cfg.Daemon.Start(ctx)
	if err != nil {
		return err
	}
	defer ch.Output.Close()

	output := bus.NewQueue[*domain.Envelope]()
	input := bus.NewQueue[domain.Command]()

	rcfg := s.cfg.Router
	rcfg.Input = input
	r := router.New(rcfg)
	s.mu.Lock()
	s.router = r
	s.mu.Unlock()

	if s.cfg.Inbound != nil {
		s.cfg.Inbound.SetSender(r)
		defer s.cfg.Inbound.SetSender(nil)
	}

	decoder := protocol.NewDecoder(protocol.DecoderConfig{
		Reader: ch.Output,
		Output: output,
		Groups: r,
		Events: s.cfg.Events,
		Logger: s.logger,
	})
	writer := protocol.NewWriter(protocol.WriterConfig{
		Writer: ch.Input,
		Input:  input,
		Events: s.cfg.Events,
		Logger: s.logger,
	})

	s.logger.Info("session started", "identity", id)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer output.Close()
		return decoder.Run(gctx)
	})
	g.Go(func() error { return writer.Run(gctx) })
	g.Go(func() error { return r.Run(gctx, output) })
	g.Go(func() error { return s.cfg.Daemon.Wait(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.cfg.Daemon.Terminate(true)
		input.Close()
		output.Close()
		ch.Input.Close()
		return nil
	})

	err = g.Wait()
	s.logger.Info("session ended", "identity", id, "error", err)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
