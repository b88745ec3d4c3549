package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestQuote(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.router.quote(context.Background()); got != 107142857 {
		t.Fatalf("got %d nanoMOB", got)
	}

	h = newHarness(t, func(c *Config) {
		c.Prices = fakeOracle{err: errors.New("down")}
		c.Registration.FallbackRate = 10
	})
	if got := h.router.quote(context.Background()); got != 150000000 {
		t.Fatalf("fallback rate not used: %d", got)
	}
}

func TestRegister_PaymentOnThirdPoll(t *testing.T) {
	h := newHarness(t, nil)
	h.payments.matchOn = 3

	paid, err := h.router.register(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if !paid {
		t.Fatal("expected payment to be found")
	}
	if n := h.payments.findCount(); n != 3 {
		t.Fatalf("expected 3 polls, got %d", n)
	}
	if h.payments.wanted[0] != 107142857000 {
		t.Errorf("polled for %d picoMOB", h.payments.wanted[0])
	}
	if tx, _ := h.payments.UserPayment(context.Background(), user); tx != "tx-123" {
		t.Errorf("payment not recorded, got %q", tx)
	}

	got := messages(h.drain())
	if len(got) != 8 {
		t.Fatalf("expected 5 instruction and 3 confirmation messages, got %d: %q", len(got), got)
	}
	if got[1] != "1.07142857" || got[3] != "nXz8wallet" {
		t.Errorf("unexpected instructions %q", got[:5])
	}
	thanks := 0
	for _, m := range got {
		if strings.HasPrefix(m, "Thank you for your payment!") {
			thanks++
		}
	}
	if thanks != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", thanks)
	}
}

func TestRegister_ExpiresAfterAllPolls(t *testing.T) {
	h := newHarness(t, nil)

	paid, err := h.router.register(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if paid {
		t.Fatal("no payment should be found")
	}
	if n := h.payments.findCount(); n != DefaultPollAttempts {
		t.Fatalf("expected %d polls, got %d", DefaultPollAttempts, n)
	}
	if got := messages(h.drain()); len(got) != 5 {
		t.Fatalf("expected only the instructions, got %d messages", len(got))
	}
}

func TestRegister_Cancelled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Registration.PollInterval = time.Hour })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.router.register(ctx, user)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("register did not stop on cancel")
	}
}

func TestRegister_SecondRequestWhileActive(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Registration.PollInterval = time.Hour })
	ctx := context.Background()

	h.router.Route(ctx, envelope(user, "/register"))
	deadline := time.Now().Add(2 * time.Second)
	for !h.router.Tasks().Active("register:"+user) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.router.Route(ctx, envelope(user, "/register"))

	h.router.Tasks().CancelAll()
	if err := h.router.Tasks().Wait(ctx); err != nil {
		t.Fatal(err)
	}

	var inProgress int
	for _, m := range messages(h.drain()) {
		if strings.HasPrefix(m, "A registration is already in progress") {
			inProgress++
		}
	}
	if inProgress != 1 {
		t.Fatalf("expected one in-progress reply, got %d", inProgress)
	}
}
