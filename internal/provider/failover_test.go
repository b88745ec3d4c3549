package provider

import (
	"context"
	"errors"
	"testing"

	"contactbot/internal/domain"
)

type stubOracle struct {
	rate  float64
	err   error
	calls int
}

func (s *stubOracle) Rate(context.Context) (float64, error) {
	s.calls++
	return s.rate, s.err
}

func TestFailoverOracle_FirstSuccessWins(t *testing.T) {
	down := &stubOracle{err: errors.New("503")}
	up := &stubOracle{rate: 13.5}
	never := &stubOracle{rate: 99}

	rate, err := NewFailoverOracle([]domain.PriceOracle{down, up, never}, testLogger()).Rate(context.Background())
	if err != nil || rate != 13.5 {
		t.Fatalf("got %v, %v", rate, err)
	}
	if never.calls != 0 {
		t.Error("oracles after the first success must not be asked")
	}
}

func TestFailoverOracle_AllFail(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewFailoverOracle([]domain.PriceOracle{&stubOracle{err: boom}}, testLogger()).Rate(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
	if _, err := NewFailoverOracle(nil, testLogger()).Rate(context.Background()); err == nil {
		t.Fatal("empty chain should fail")
	}
}
