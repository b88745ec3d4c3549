package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"contactbot/internal/domain"
)

// DefaultPriceURL is the big.one MOB/USDT ticker.
const DefaultPriceURL = "https://big.one/api/xn/v1/asset_pairs/8e900cb1-6331-4fe7-853c-d678ba136b2f"

// BigOneOracle reads the last traded MOB/USDT price from big.one.
type BigOneOracle struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ domain.PriceOracle = (*BigOneOracle)(nil)

// NewBigOneOracle creates an oracle; an empty url uses DefaultPriceURL.
func NewBigOneOracle(url string, client *http.Client, logger *slog.Logger) *BigOneOracle {
	if url == "" {
		url = DefaultPriceURL
	}
	if client == nil {
		client = SharedHTTPClient(0)
	}
	return &BigOneOracle{url: url, client: client, logger: logger}
}

// Rate returns USDT per MOB.
func (o *BigOneOracle) Rate(ctx context.Context) (float64, error) {
	body, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	}, o.logger)
	if err != nil {
		return 0, fmt.Errorf("fetch rate: %w", err)
	}

	var resp struct {
		Data struct {
			Ticker struct {
				Close json.RawMessage `json:"close"`
			} `json:"ticker"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode rate: %w", err)
	}
	rate, err := parseNumber(resp.Data.Ticker.Close)
	if err != nil {
		return 0, fmt.Errorf("decode rate: %w", err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("decode rate: non-positive close %v", rate)
	}
	return rate, nil
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing close price")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
