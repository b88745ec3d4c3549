package router

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeRouting struct {
	mu        sync.Mutex
	dest      map[string]string // number -> user
	available []string
	intents   map[string]bool
	bought    map[string]bool
	deleted   []string
	released  []string
	dropDest  bool // SetDestination succeeds without storing anything
}

func newFakeRouting() *fakeRouting {
	return &fakeRouting{dest: map[string]string{}, intents: map[string]bool{}, bought: map[string]bool{}}
}

func (f *fakeRouting) NumbersFor(_ context.Context, user string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for n, u := range f.dest {
		if u == user {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRouting) Destination(_ context.Context, number string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.dest[number]; ok {
		return u, nil
	}
	return "", domain.ErrNotFound
}

func (f *fakeRouting) SetDestination(_ context.Context, number, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dropDest {
		f.dest[number] = user
	}
	return nil
}

func (f *fakeRouting) SweepExpired(context.Context) (int, error) { return 0, nil }

func (f *fakeRouting) ClaimAvailable(_ context.Context, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.available {
		if strings.HasPrefix(n, prefix) {
			f.available = append(f.available[:i], f.available[i+1:]...)
			return n, nil
		}
	}
	return "", domain.ErrNotFound
}

func (f *fakeRouting) Release(_ context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, number)
	f.available = append(f.available, number)
	return nil
}

func (f *fakeRouting) IntendToBuy(_ context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[number] = true
	return nil
}

func (f *fakeRouting) MarkBought(_ context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bought[number] = true
	return nil
}

func (f *fakeRouting) Delete(_ context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, number)
	delete(f.intents, number)
	delete(f.dest, number)
	return nil
}

type fakeGroups struct {
	mu     sync.Mutex
	routes map[string]domain.GroupRoute
}

func (f *fakeGroups) SetGroupRoute(_ context.Context, r domain.GroupRoute) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routes == nil {
		f.routes = map[string]domain.GroupRoute{}
	}
	f.routes[r.GroupID] = r
	return nil
}

func (f *fakeGroups) RouteForGroup(_ context.Context, id string) (domain.GroupRoute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.routes[id]; ok {
		return r, nil
	}
	return domain.GroupRoute{}, domain.ErrNotFound
}

func (f *fakeGroups) GroupForRoute(_ context.Context, their, our string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.routes {
		if r.Their == their && r.Our == our {
			return id, nil
		}
	}
	return "", domain.ErrNotFound
}

// fakePayments matches on the matchOn-th FindPayment call (0 = never).
type fakePayments struct {
	mu       sync.Mutex
	matchOn  int
	finds    int
	wanted   []int64
	recorded map[string]string
}

func (f *fakePayments) PutPayment(context.Context, domain.Payment) error { return nil }

func (f *fakePayments) FindPayment(_ context.Context, value int64) (domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	f.wanted = append(f.wanted, value)
	if f.matchOn > 0 && f.finds == f.matchOn {
		return domain.Payment{TransactionLogID: "tx-123", ValuePicoMOB: value}, nil
	}
	return domain.Payment{}, domain.ErrNotFound
}

func (f *fakePayments) RecordUserPayment(_ context.Context, user, tx string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = map[string]string{}
	}
	f.recorded[user] = tx
	return nil
}

func (f *fakePayments) UserPayment(_ context.Context, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.recorded[user]; ok {
		return tx, nil
	}
	return "", domain.ErrNotFound
}

func (f *fakePayments) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

type smsCall struct{ Source, Destination, Text string }

type fakeSMS struct {
	mu    sync.Mutex
	calls []smsCall
	err   error
}

func (f *fakeSMS) SendSMS(_ context.Context, source, destination, text string) (domain.SmsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, smsCall{source, destination, text})
	if f.err != nil {
		return domain.SmsResult{}, f.err
	}
	return domain.SmsResult{Status: "success", SegmentCount: 1}, nil
}

type fakeNumbers struct {
	search  []string
	buyErr  error
	urlErr  error
	bought  []string
	smsURLs map[string]string
}

func (f *fakeNumbers) SearchNumbers(context.Context, string, int) ([]string, error) {
	return f.search, nil
}

func (f *fakeNumbers) BuyNumber(_ context.Context, number string) error {
	if f.buyErr != nil {
		return f.buyErr
	}
	f.bought = append(f.bought, number)
	return nil
}

func (f *fakeNumbers) SetSMSURL(_ context.Context, number, url string) error {
	if f.urlErr != nil {
		return f.urlErr
	}
	if f.smsURLs == nil {
		f.smsURLs = map[string]string{}
	}
	f.smsURLs[number] = url
	return nil
}

type fakeOracle struct {
	rate float64
	err  error
}

func (f fakeOracle) Rate(context.Context) (float64, error) { return f.rate, f.err }

type harness struct {
	router   *Router
	input    *bus.Queue[domain.Command]
	routing  *fakeRouting
	groups   *fakeGroups
	payments *fakePayments
	sms      *fakeSMS
	numbers  *fakeNumbers
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		input:    bus.NewQueue[domain.Command](),
		routing:  newFakeRouting(),
		groups:   &fakeGroups{},
		payments: &fakePayments{},
		sms:      &fakeSMS{},
		numbers:  &fakeNumbers{},
	}
	cfg := Config{
		Routing:      h.routing,
		Groups:       h.groups,
		Payments:     h.payments,
		SMS:          h.sms,
		Numbers:      h.numbers,
		Prices:       fakeOracle{rate: 14},
		Input:        h.input,
		GroupRouting: true,
		Ordering:     true,
		InboundURL:   "https://bot.example/inbound",
		Registration: RegistrationConfig{
			WalletAddress: "nXz8wallet",
			PollInterval:  time.Millisecond,
			Jitter:        func() float64 { return 0 },
		},
		Logger: testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.router = New(cfg)
	return h
}

// drain returns every queued command.
func (h *harness) drain() []domain.Command {
	var out []domain.Command
	for h.input.Len() > 0 {
		cmd, err := h.input.Get(context.Background())
		if err != nil {
			break
		}
		out = append(out, cmd)
	}
	return out
}

// messages returns the bodies of queued send commands.
func messages(cmds []domain.Command) []string {
	var out []string
	for _, c := range cmds {
		if c.Kind == domain.KindSend {
			out = append(out, c.Message)
		}
	}
	return out
}

func envelope(source, text string) *domain.Envelope {
	return domain.NewEnvelope(domain.EnvelopeFields{Source: source, TimestampMillis: 1700000000000, Text: text})
}

const (
	user     = "+14155550123"
	ourNum   = "4155550100"
	theirNum = "4155550199"
)
