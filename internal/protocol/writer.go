package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
)

// ErrTransportClosed is returned by Writer.Run when the daemon's input can
// no longer be written.
var ErrTransportClosed = errors.New("daemon input closed")

// WriterConfig configures a Writer.
type WriterConfig struct {
	Writer io.Writer
	Input  *bus.Queue[domain.Command]
	Events *bus.EventBus
	Logger *slog.Logger
}

// Writer drains the input queue onto the daemon's stdin, one JSON object
// per line, in queue order.
type Writer struct {
	w      io.Writer
	input  *bus.Queue[domain.Command]
	events *bus.EventBus
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig) *Writer {
	return &Writer{w: cfg.Writer, input: cfg.Input, events: cfg.Events, logger: cfg.Logger}
}

// Run writes commands until ctx is done or the queue is closed and drained.
// A write failure returns an error wrapping ErrTransportClosed.
func (w *Writer) Run(ctx context.Context) error {
	for {
		cmd, err := w.input.Get(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		}
		if err := w.write(cmd); err != nil {
			return err
		}
	}
}

func (w *Writer) write(cmd domain.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		w.logger.Error("dropping unencodable command", "command", cmd.Kind, "error", err)
		return nil
	}
	data = append(data, '\n')
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	w.logger.Debug("command written", "command", cmd.Kind)
	w.events.Emit(bus.Event{
		Type:    bus.EventCommandWritten,
		Source:  "writer",
		Payload: map[string]any{"command": string(cmd.Kind)},
	})
	return nil
}
