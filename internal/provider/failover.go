package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"contactbot/internal/domain"
)

// FailoverOracle asks each oracle in order and returns the first rate.
type FailoverOracle struct {
	oracles []domain.PriceOracle
	logger  *slog.Logger
}

var _ domain.PriceOracle = (*FailoverOracle)(nil)

// NewFailoverOracle creates a failover chain. At least one oracle is required.
func NewFailoverOracle(oracles []domain.PriceOracle, logger *slog.Logger) *FailoverOracle {
	return &FailoverOracle{oracles: oracles, logger: logger}
}

func (fo *FailoverOracle) Rate(ctx context.Context) (float64, error) {
	if len(fo.oracles) == 0 {
		return 0, errors.New("no price oracle configured")
	}
	var lastErr error
	for i, o := range fo.oracles {
		rate, err := o.Rate(ctx)
		if err == nil {
			if i > 0 {
				fo.logger.Info("failover: used fallback price source", "attempt", i+1)
			}
			return rate, nil
		}
		lastErr = err
		fo.logger.Warn("failover: price source failed, trying next", "attempt", i+1, "error", err)
	}
	return 0, fmt.Errorf("all price sources failed: %w", lastErr)
}
