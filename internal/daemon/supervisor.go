// Package daemon supervises the messaging daemon subprocess.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"contactbot/internal/bus"
)

const (
	defaultGracePeriod    = 10 * time.Second
	defaultProfileTimeout = 60 * time.Second
)

// ErrExited is returned by Wait once the daemon has exited.
var ErrExited = errors.New("daemon exited")

// LaunchError reports that the daemon executable could not be spawned.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Profile is the display identity set before the daemon starts.
type Profile struct {
	GivenName  string
	FamilyName string
	Avatar     string // path to an image; skipped when empty or missing
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Executable     string
	DataDir        string // passed as --config
	Identity       string // account phone number
	Profile        Profile
	ProfileTimeout time.Duration
	GracePeriod    time.Duration // SIGTERM to SIGKILL bound for graceful termination
	Events         *bus.EventBus
	Logger         *slog.Logger
}

// Channel is the daemon's stdin/stdout pair. The supervisor's waiter closes
// neither end; Output reports EOF once the daemon exits.
type Channel struct {
	Input  io.WriteCloser
	Output io.ReadCloser
}

// Supervisor owns one daemon subprocess.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error

	terminateOnce sync.Once
}

// NewSupervisor creates a Supervisor. Nothing is started.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = defaultProfileTimeout
	}
	return &Supervisor{cfg: cfg, logger: cfg.Logger}
}

func (s *Supervisor) baseArgs(output string) []string {
	return []string{"--config", s.cfg.DataDir, "--username=" + s.cfg.Identity, "--output=" + output}
}

// UpdateProfile runs one short-lived daemon invocation that sets the
// account's display name and avatar. Failures are logged, never returned.
func (s *Supervisor) UpdateProfile(ctx context.Context) {
	p := s.cfg.Profile
	if p.GivenName == "" {
		return
	}
	args := append(s.baseArgs("plain-text"), "updateProfile", "--given-name", p.GivenName, "--family-name", p.FamilyName)
	if p.Avatar != "" {
		if _, err := os.Stat(p.Avatar); err == nil {
			args = append(args, "--avatar", p.Avatar)
		} else {
			s.logger.Warn("avatar not found, skipping", "path", p.Avatar)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProfileTimeout)
	defer cancel()

	start := time.Now()
	out, err := exec.CommandContext(ctx, s.cfg.Executable, args...).CombinedOutput()
	if err != nil {
		s.logger.Warn("profile update failed", "error", err, "output", string(out))
		return
	}
	s.logger.Info("profile updated", "name", p.GivenName, "duration", time.Since(start))
}

// Start launches the daemon in JSON stdio mode.
func (s *Supervisor) Start(ctx context.Context) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil, errors.New("daemon already started")
	}

	cmd := exec.Command(s.cfg.Executable, append(s.baseArgs("json"), "stdio")...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	// os.Pipe rather than StdoutPipe: Wait runs concurrently with reads and
	// must not close the reader.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, &LaunchError{Executable: s.cfg.Executable, Err: err}
	}
	stdoutW.Close()

	s.cmd = cmd
	s.done = make(chan struct{})
	go s.wait()

	s.logger.Info("daemon started", "pid", cmd.Process.Pid, "identity", s.cfg.Identity)
	s.cfg.Events.Emit(bus.Event{
		Type:    bus.EventDaemonStarted,
		Source:  "supervisor",
		Payload: map[string]any{"pid": cmd.Process.Pid},
	})
	return &Channel{Input: stdin, Output: stdoutR}, nil
}

func (s *Supervisor) wait() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	close(s.done)

	s.logger.Info("daemon exited", "status", s.cmd.ProcessState.String())
	s.cfg.Events.Emit(bus.Event{
		Type:    bus.EventDaemonExited,
		Source:  "supervisor",
		Payload: map[string]any{"exit_code": s.cmd.ProcessState.ExitCode()},
	})
}

// Wait blocks until the daemon exits or ctx is done. Any exit, clean or
// not, is reported as an error wrapping ErrExited.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return errors.New("daemon not started")
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr != nil {
		return fmt.Errorf("%w: %v", ErrExited, s.waitErr)
	}
	return fmt.Errorf("%w: %s", ErrExited, s.cmd.ProcessState)
}

// Exited reports whether the daemon has exited.
func (s *Supervisor) Exited() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Terminate stops the daemon. Graceful sends SIGTERM and waits up to the
// grace period before SIGKILL; otherwise SIGKILL is sent without waiting.
// Only the first call has any effect.
func (s *Supervisor) Terminate(graceful bool) {
	s.terminateOnce.Do(func() { s.terminate(graceful) })
}

func (s *Supervisor) terminate(graceful bool) {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil || s.Exited() {
		return
	}

	if !graceful {
		s.logger.Info("killing daemon", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("kill daemon failed", "error", err)
		}
		return
	}

	s.logger.Info("stopping daemon", "pid", cmd.Process.Pid, "grace", s.cfg.GracePeriod)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("signal daemon failed", "error", err)
	}
	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("daemon did not exit within grace period, killing", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("kill daemon failed", "error", err)
		}
		<-done
	}
}
