package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the state of a background task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskComplete  TaskStatus = "complete"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

var (
	// ErrTaskActive is returned by Submit when a task with the same key is
	// still running.
	ErrTaskActive = errors.New("task already running")
	// ErrTooManyTasks is returned by Submit when the tracker is full.
	ErrTooManyTasks = errors.New("too many background tasks")
	// ErrTrackerClosed is returned by Submit after CancelAll.
	ErrTrackerClosed = errors.New("task tracker closed")
)

// Task is a snapshot of one background task.
type Task struct {
	ID        string
	Name      string
	Key       string // at most one running task per key
	Status    TaskStatus
	Error     string
	StartedAt time.Time
	DoneAt    time.Time
}

// TaskTracker runs detached work in a bounded set that can be cancelled and
// awaited at shutdown.
type TaskTracker struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	active  map[string]string // key -> task id
	cancels map[string]context.CancelFunc
	limit   int
	retain  time.Duration // finished tasks are forgotten after this long
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewTaskTracker creates a tracker allowing up to limit running tasks.
func NewTaskTracker(limit int, logger *slog.Logger) *TaskTracker {
	if limit <= 0 {
		limit = 64
	}
	return &TaskTracker{
		tasks:   make(map[string]*Task),
		active:  make(map[string]string),
		cancels: make(map[string]context.CancelFunc),
		limit:   limit,
		retain:  time.Hour,
		logger:  logger,
	}
}

// Submit starts fn in its own goroutine. The task context is detached from
// the caller's and is cancelled only by CancelAll. Finished tasks older than
// the retention period are dropped first.
func (tt *TaskTracker) Submit(name, key string, fn func(ctx context.Context) error) (string, error) {
	tt.mu.Lock()
	if tt.closed {
		tt.mu.Unlock()
		return "", ErrTrackerClosed
	}
	if key != "" {
		if _, ok := tt.active[key]; ok {
			tt.mu.Unlock()
			return "", ErrTaskActive
		}
	}
	tt.cleanLocked(tt.retain)
	if len(tt.cancels) >= tt.limit {
		tt.mu.Unlock()
		return "", ErrTooManyTasks
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{ID: id, Name: name, Key: key, Status: TaskRunning, StartedAt: time.Now()}
	tt.tasks[id] = task
	tt.cancels[id] = cancel
	if key != "" {
		tt.active[key] = id
	}
	tt.wg.Add(1)
	tt.mu.Unlock()

	tt.logger.Info("background task started", "id", id, "name", name, "key", key)

	go func() {
		defer tt.wg.Done()
		err := tt.run(ctx, fn)
		cancel()

		tt.mu.Lock()
		defer tt.mu.Unlock()
		task.DoneAt = time.Now()
		switch {
		case err == nil:
			task.Status = TaskComplete
			tt.logger.Info("background task completed", "id", id, "name", name)
		case errors.Is(err, context.Canceled):
			task.Status = TaskCancelled
			tt.logger.Info("background task cancelled", "id", id, "name", name)
		default:
			task.Status = TaskFailed
			task.Error = err.Error()
			tt.logger.Error("background task failed", "id", id, "name", name, "err", err)
		}
		delete(tt.cancels, id)
		if key != "" && tt.active[key] == id {
			delete(tt.active, key)
		}
	}()

	return id, nil
}

func (tt *TaskTracker) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic in background task")
			tt.logger.Error("background task panic", "panic", r)
		}
	}()
	return fn(ctx)
}

// Get returns a snapshot of a task.
func (tt *TaskTracker) Get(id string) (Task, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	task, ok := tt.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Active reports whether a task with key is running.
func (tt *TaskTracker) Active(key string) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	_, ok := tt.active[key]
	return ok
}

// Running returns the number of running tasks.
func (tt *TaskTracker) Running() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.cancels)
}

// Clean forgets finished tasks older than maxAge.
func (tt *TaskTracker) Clean(maxAge time.Duration) int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.cleanLocked(maxAge)
}

func (tt *TaskTracker) cleanLocked(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range tt.tasks {
		if t.Status != TaskRunning && t.DoneAt.Before(cutoff) {
			delete(tt.tasks, id)
			removed++
		}
	}
	return removed
}

// CancelAll cancels every running task and rejects new ones.
func (tt *TaskTracker) CancelAll() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.closed = true
	for _, cancel := range tt.cancels {
		cancel()
	}
}

// Wait blocks until all tasks have returned or ctx is done.
func (tt *TaskTracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		tt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
