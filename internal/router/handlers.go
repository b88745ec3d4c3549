package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
	"contactbot/internal/phone"
)

// buildHandlers returns the command table. /order and /pay exist only when
// ordering is enabled.
func (r *Router) buildHandlers() map[string]Handler {
	handlers := map[string]Handler{
		"help":   r.handleHelp,
		"status": r.handleStatus,
		"send":   r.handleSend,
	}
	if r.cfg.Ordering {
		handlers["order"] = r.handleOrder
		handlers["pay"] = r.handlePay
	}
	return handlers
}

// Commands lists the registered command names.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *Router) handleHelp(context.Context, *domain.Envelope) (domain.Reply, error) {
	return domain.Text("Welcome to the Contact Pre-Release!\n" +
		"To get started, try /register, or /status! " +
		"If you've already registered, try to send a message via /send."), nil
}

func (r *Router) handleStatus(ctx context.Context, env *domain.Envelope) (domain.Reply, error) {
	numbers, err := r.cfg.Routing.NumbersFor(ctx, env.Source)
	if err != nil {
		return domain.Reply{}, err
	}
	paid := false
	if _, err := r.cfg.Payments.UserPayment(ctx, env.Source); err == nil {
		paid = true
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Reply{}, err
	}

	switch {
	case paid && len(numbers) == 0:
		msgs := []string{"Welcome to the beta! Thank you for your payment. " +
			"Please contact support to finish setting up your account. We will reach out within 12 hours."}
		if r.cfg.Ordering {
			msgs = append(msgs, "Alternatively, try /order <area code>")
		}
		return domain.Lines(msgs...), nil
	case len(numbers) == 1:
		return domain.Text(fmt.Sprintf(`Hi %s! We found %s registered for your user. Try "/send %s Hello from Contact via %s!".`,
			env.DisplayName, numbers[0], env.Source, numbers[0])), nil
	case len(numbers) > 1:
		return domain.Text(fmt.Sprintf(`Hi %s! We found several numbers [%s] registered for your user. Try "/send %s Hello from Contact via %s!".`,
			env.DisplayName, strings.Join(numbers, ", "), env.Source, numbers[0])), nil
	}
	return domain.Text("We don't see any Contact numbers for your account! " +
		`If you would like to register a new number, try "/register" and following the instructions.`), nil
}

// handleSend relays /send <number> <text> from the user's first number.
func (r *Router) handleSend(ctx context.Context, env *domain.Envelope) (domain.Reply, error) {
	numbers, err := r.cfg.Routing.NumbersFor(ctx, env.Source)
	if err != nil {
		return domain.Reply{}, err
	}
	if len(numbers) == 0 {
		return domain.Text(`You don't have a number yet. Try "/register".`), nil
	}
	dest, err := phone.SignalFormat(env.Arg(0))
	if err != nil {
		return domain.Text(invalidNumber(env.Arg(0))), nil
	}
	teliDest, _ := phone.TeliFormat(dest)

	res, err := r.sendSMS(ctx, numbers[0], teliDest, env.Text)
	if err != nil {
		return smsFailure(err), nil
	}
	r.react(EmojiSent, env)
	return domain.Table(res.Fields()...), nil
}

func (r *Router) handlePay(ctx context.Context, env *domain.Envelope) (domain.Reply, error) {
	switch env.Arg(0) {
	case "shibboleth":
		if err := r.cfg.Payments.RecordUserPayment(ctx, env.Source, "manual-"+uuid.NewString()); err != nil {
			return domain.Reply{}, err
		}
		return domain.Text("...thank you for your payment"), nil
	case "sibboleth":
		return domain.Text("sending attack drones to your location"), nil
	}
	return domain.Text("no"), nil
}

// handleOrder provisions a number in the requested area code for a user
// who has paid: from inventory when possible, otherwise by buying one.
func (r *Router) handleOrder(ctx context.Context, env *domain.Envelope) (domain.Reply, error) {
	areaCode := env.Arg(0)
	if !isAreaCode(areaCode) {
		return domain.Text("usage: /order <area code>"), nil
	}
	if _, err := r.cfg.Payments.UserPayment(ctx, env.Source); errors.Is(err, domain.ErrNotFound) {
		return domain.Text("make a payment with /register first"), nil
	} else if err != nil {
		return domain.Reply{}, err
	}
	if _, err := r.cfg.Routing.SweepExpired(ctx); err != nil {
		r.logger.Warn("sweep expired intents failed", "error", err)
	}

	to := domain.Address{Recipient: env.Source}
	number, err := r.cfg.Routing.ClaimAvailable(ctx, areaCode)
	fromInventory := err == nil
	switch {
	case fromInventory:
		r.notify(to, fmt.Sprintf("found %s for you...", number))
	case errors.Is(err, domain.ErrNotFound):
		bought, reply, err := r.buyNumber(ctx, to, areaCode)
		if err != nil || !reply.Empty() {
			return reply, err
		}
		number = bought
	default:
		return domain.Reply{}, err
	}

	rollback := func() {
		var err error
		if fromInventory {
			err = r.cfg.Routing.Release(ctx, number)
		} else {
			err = r.cfg.Routing.Delete(ctx, number)
		}
		if err != nil {
			r.logger.Error("rollback failed", "number", number, "error", err)
		}
	}
	if err := r.cfg.Numbers.SetSMSURL(ctx, number, r.cfg.InboundURL); err != nil {
		rollback()
		return domain.Text(fmt.Sprintf("something went wrong: %v", err)), nil
	}
	if err := r.cfg.Routing.SetDestination(ctx, number, env.Source); err != nil {
		rollback()
		return domain.Reply{}, err
	}
	if dest, err := r.cfg.Routing.Destination(ctx, number); err != nil || dest != env.Source {
		r.logger.Error("destination not stored", "number", number, "user", env.Source, "got", dest, "error", err)
		rollback()
		return domain.Text("db error?"), nil
	}

	r.logger.Info("number ordered", "number", number, "user", env.Source, "from_inventory", fromInventory)
	r.events.Emit(bus.Event{Type: bus.EventNumberOrdered, Source: "router", Payload: map[string]any{"number": number}})
	return domain.Text(fmt.Sprintf("you are now the proud owner of %s", number)), nil
}

// buyNumber searches for and buys a number. A non-empty reply ends the
// order with that message.
func (r *Router) buyNumber(ctx context.Context, to domain.Address, areaCode string) (string, domain.Reply, error) {
	numbers, err := r.cfg.Numbers.SearchNumbers(ctx, areaCode, 1)
	if err != nil {
		return "", domain.Text(fmt.Sprintf("something went wrong: %v", err)), nil
	}
	if len(numbers) == 0 {
		return "", domain.Text("sorry, no numbers for that area code"), nil
	}
	number := numbers[0]
	r.notify(to, fmt.Sprintf("found %s", number))

	if err := r.cfg.Routing.IntendToBuy(ctx, number); err != nil {
		return "", domain.Reply{}, err
	}
	if err := r.cfg.Numbers.BuyNumber(ctx, number); err != nil {
		if derr := r.cfg.Routing.Delete(ctx, number); derr != nil {
			r.logger.Error("delete failed purchase intent", "number", number, "error", derr)
		}
		return "", domain.Text(fmt.Sprintf("something went wrong: %v", err)), nil
	}
	r.notify(to, fmt.Sprintf("bought %s", number))
	if err := r.cfg.Routing.MarkBought(ctx, number); err != nil {
		return "", domain.Reply{}, err
	}
	return number, domain.Reply{}, nil
}

// notify sends a progress message; a failure is logged and the order goes on.
func (r *Router) notify(to domain.Address, text string) {
	if err := r.Send(to, domain.Text(text)); err != nil {
		r.logger.Warn("progress message failed", "to", to.String(), "error", err)
	}
}

func isAreaCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
