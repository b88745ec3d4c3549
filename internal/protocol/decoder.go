// Package protocol implements the line-delimited JSON protocol spoken with
// the messaging daemon: a decoder turning its stdout into Envelopes and a
// writer serializing Commands onto its stdin.
package protocol

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
)

// ErrEndOfStream is returned by Decoder.Run when the daemon's output closes.
var ErrEndOfStream = errors.New("daemon output closed")

// GroupAssociator records group routes announced on the side channel.
type GroupAssociator interface {
	SetGroupRoute(ctx context.Context, route domain.GroupRoute) error
}

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	Reader io.Reader
	Output *bus.Queue[*domain.Envelope]
	Groups GroupAssociator
	Events *bus.EventBus
	Logger *slog.Logger
}

// Decoder reads newline-delimited JSON from the daemon and enqueues
// Envelopes in read order.
type Decoder struct {
	reader *bufio.Reader
	output *bus.Queue[*domain.Envelope]
	groups GroupAssociator
	events *bus.EventBus
	logger *slog.Logger
}

// NewDecoder creates a Decoder.
func NewDecoder(cfg DecoderConfig) *Decoder {
	return &Decoder{
		reader: bufio.NewReaderSize(cfg.Reader, 64*1024),
		output: cfg.Output,
		groups: cfg.Groups,
		events: cfg.Events,
		logger: cfg.Logger,
	}
}

// Run decodes lines until the stream ends, returning ErrEndOfStream, or
// until ctx is done or the output queue is closed. Bad lines never stop it.
func (d *Decoder) Run(ctx context.Context) error {
	for {
		line, readErr := d.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if err := d.handle(ctx, line); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return ErrEndOfStream
			}
			return fmt.Errorf("read daemon output: %w: %v", ErrEndOfStream, readErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (d *Decoder) handle(ctx context.Context, line []byte) error {
	item := Classify(line)
	switch item.Kind {
	case KindMalformed, KindNotObject:
		d.logger.Debug("dropping daemon line", "reason", item.Kind.String(), "line", string(bytes.TrimSpace(line)))
		d.dropped(item.Kind)
	case KindError:
		d.logger.Error("daemon reported error", "error", string(item.Error))
		d.dropped(item.Kind)
	case KindGroup:
		d.associate(ctx, item.Group)
	case KindEnvelope:
		if err := d.output.Put(item.Envelope); err != nil {
			return fmt.Errorf("enqueue envelope: %w", err)
		}
		d.events.Emit(bus.Event{
			Type:    bus.EventEnvelopeReceived,
			Source:  "decoder",
			Payload: map[string]any{"command": item.Envelope.Command},
		})
	}
	return nil
}

func (d *Decoder) associate(ctx context.Context, ev *GroupEvent) {
	if !ev.Matched {
		d.logger.Warn("ignoring group event with unrecognized name", "group", ev.GroupID, "name", ev.Name)
		d.dropped(KindGroup)
		return
	}
	if d.groups == nil {
		return
	}
	if err := d.groups.SetGroupRoute(ctx, ev.Route); err != nil {
		d.logger.Error("store group route failed", "group", ev.GroupID, "error", err)
		return
	}
	d.logger.Info("group route created", "group", ev.GroupID, "their", ev.Route.Their, "our", ev.Route.Our)
}

func (d *Decoder) dropped(kind Kind) {
	d.events.Emit(bus.Event{
		Type:    bus.EventEnvelopeDropped,
		Source:  "decoder",
		Payload: map[string]any{"reason": kind.String()},
	})
}
