package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
)

// Registration defaults.
const (
	DefaultPollAttempts = 360
	DefaultPollInterval = 10 * time.Second
	DefaultPriceUSD     = 15.00
	DefaultFallbackRate = 14.0
)

const nanoMOB = 100_000_000

// RegistrationConfig tunes the /register flow.
type RegistrationConfig struct {
	WalletAddress string
	PriceUSD      float64
	FallbackRate  float64 // used when the price oracle fails
	PollAttempts  int
	PollInterval  time.Duration
	Jitter        func() float64 // uniform [0,1); defaults to math/rand
}

func (c RegistrationConfig) withDefaults() RegistrationConfig {
	if c.PriceUSD <= 0 {
		c.PriceUSD = DefaultPriceUSD
	}
	if c.FallbackRate <= 0 {
		c.FallbackRate = DefaultFallbackRate
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = DefaultPollAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Jitter == nil {
		c.Jitter = rand.Float64
	}
	return c
}

func (r *Router) startRegistration(env *domain.Envelope) {
	_, err := r.tasks.Submit("register", "register:"+env.Source, func(ctx context.Context) error {
		_, err := r.register(ctx, env.Source)
		return err
	})
	switch {
	case errors.Is(err, ErrTaskActive):
		r.reply(env, domain.Text("A registration is already in progress. Please complete the payment above, or try again in an hour."))
	case err != nil:
		r.logger.Warn("cannot start registration", "source", env.Source, "error", err)
		r.reply(env, domain.Text("Sorry, registration is unavailable right now. Please try again later."))
	}
}

// quote returns the price in nanoMOB for one number, perturbed slightly so
// concurrent registrations expect distinct amounts.
func (r *Router) quote(ctx context.Context) int64 {
	rate, err := r.cfg.Prices.Rate(ctx)
	if err != nil {
		r.logger.Error("price lookup failed, using fallback rate", "error", err, "rate", r.reg.FallbackRate)
		rate = r.reg.FallbackRate
	}
	rate -= r.reg.Jitter() / 1000
	return int64(r.reg.PriceUSD / rate * nanoMOB)
}

// register sends payment instructions to user and polls for a payment of
// the quoted amount. It reports whether a payment arrived.
func (r *Router) register(ctx context.Context, user string) (bool, error) {
	price := r.quote(ctx)
	exact := strconv.FormatFloat(float64(price)/nanoMOB, 'f', -1, 64)
	to := domain.Address{Recipient: user}

	if err := r.Send(to, domain.Lines(
		fmt.Sprintf("The current price for a SMS number is %sMOB/month. If you would like to continue, please send exactly...", exact),
		exact,
		"to",
		r.reg.WalletAddress,
		"Upon payment, you will be able to select the area code for your new phone number!",
	)); err != nil {
		return false, err
	}
	r.logger.Info("registration started", "user", user, "price_nmob", price)

	// Payments are stored in picoMOB.
	want := price * 1000
	for attempt := 1; ; attempt++ {
		payment, err := r.cfg.Payments.FindPayment(ctx, want)
		if err == nil {
			return true, r.confirm(ctx, user, payment)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("payment lookup failed", "user", user, "attempt", attempt, "error", err)
		}
		if attempt >= r.reg.PollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.reg.PollInterval):
		}
	}
	r.logger.Info("registration expired without payment", "user", user)
	return false, nil
}

func (r *Router) confirm(ctx context.Context, user string, payment domain.Payment) error {
	if err := r.cfg.Payments.RecordUserPayment(ctx, user, payment.TransactionLogID); err != nil {
		return err
	}
	r.events.Emit(bus.Event{Type: bus.EventPaymentConfirmed, Source: "router"})
	return r.Send(domain.Address{Recipient: user}, domain.Lines(
		"Thank you for your payment! Please save this transaction ID for your records and include it with any customer service requests. Without this payment ID, it will be harder to verify your purchase.",
		payment.TransactionLogID,
		`Please finish setting up your account at your convenience with the "/status" command.`,
	))
}
