// Package payments copies confirmed wallet payments into the payment store
// so registration flows can match them.
package payments

import (
	"context"
	"log/slog"
	"time"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
)

// DefaultInterval is the wallet polling period.
const DefaultInterval = 10 * time.Second

// Source lists payments received by the wallet.
type Source interface {
	ReceivedPayments(ctx context.Context) ([]domain.Payment, error)
}

// Sink stores payments.
type Sink interface {
	PutPayment(ctx context.Context, p domain.Payment) error
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Source   Source
	Sink     Sink
	Interval time.Duration
	Events   *bus.EventBus
	Logger   *slog.Logger
}

// Monitor polls the wallet and inserts payments it has not seen before.
type Monitor struct {
	source   Source
	sink     Sink
	interval time.Duration
	events   *bus.EventBus
	logger   *slog.Logger
	seen     map[string]struct{}
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Monitor{
		source:   cfg.Source,
		sink:     cfg.Sink,
		interval: cfg.Interval,
		events:   cfg.Events,
		logger:   cfg.Logger,
		seen:     make(map[string]struct{}),
	}
}

// Run polls immediately and then every interval until ctx is done. Poll
// failures are logged and retried on the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("payment monitor started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("payment poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			m.logger.Info("payment monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches the wallet's payments once and stores the unseen ones. It
// returns how many were stored.
func (m *Monitor) Poll(ctx context.Context) (int, error) {
	payments, err := m.source.ReceivedPayments(ctx)
	if err != nil {
		return 0, err
	}
	stored := 0
	for _, p := range payments {
		if _, ok := m.seen[p.TransactionLogID]; ok {
			continue
		}
		if err := m.sink.PutPayment(ctx, p); err != nil {
			return stored, err
		}
		m.seen[p.TransactionLogID] = struct{}{}
		stored++

		m.logger.Info("payment received",
			"transaction", shorten(p.TransactionLogID),
			"value_pmob", p.ValuePicoMOB,
			"block", p.FinalizedBlockIndex,
		)
		m.events.Emit(bus.Event{
			Type:    bus.EventPaymentConfirmed,
			Source:  "payments",
			Payload: map[string]any{"value_pmob": p.ValuePicoMOB},
		})
	}
	return stored, nil
}

func shorten(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
