// Package router dispatches Envelopes from the daemon to command handlers
// and SMS relays, and queues the resulting Commands for the daemon.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
	"contactbot/internal/phone"
)

// Reaction emoji.
const (
	EmojiGroup = "👥"
	EmojiSent  = "📤"
)

// SessionResetText is the literal message acknowledged as a session reset.
const SessionResetText = "TERMINATE"

// Handler answers one command.
type Handler func(ctx context.Context, env *domain.Envelope) (domain.Reply, error)

// Config configures a Router.
type Config struct {
	Routing  domain.RoutingStore
	Groups   domain.GroupRouteStore
	Payments domain.PaymentStore
	SMS      domain.SmsGateway
	Numbers  domain.NumberProvider // required when Ordering is set
	Prices   domain.PriceOracle

	Input  *bus.Queue[domain.Command]
	Tasks  *TaskTracker
	Events *bus.EventBus

	GroupRouting bool   // enables /mkgroup and /query
	Ordering     bool   // enables /order and /pay
	InboundURL   string // webhook bound to ordered numbers

	Registration RegistrationConfig
	Logger       *slog.Logger
}

// Router evaluates the routing rules for one Envelope at a time.
type Router struct {
	cfg      Config
	input    *bus.Queue[domain.Command]
	tasks    *TaskTracker
	events   *bus.EventBus
	logger   *slog.Logger
	handlers map[string]Handler
	pending  *pendingGroups
	reg      RegistrationConfig
}

// New creates a Router and builds its handler table.
func New(cfg Config) *Router {
	if cfg.Tasks == nil {
		cfg.Tasks = NewTaskTracker(0, cfg.Logger)
	}
	r := &Router{
		cfg:     cfg,
		input:   cfg.Input,
		tasks:   cfg.Tasks,
		events:  cfg.Events,
		logger:  cfg.Logger,
		pending: newPendingGroups(defaultPendingTTL),
		reg:     cfg.Registration.withDefaults(),
	}
	r.handlers = r.buildHandlers()
	return r
}

// Tasks returns the tracker running registration flows.
func (r *Router) Tasks() *TaskTracker { return r.tasks }

// Run routes Envelopes from in until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in *bus.Queue[*domain.Envelope]) error {
	for {
		env, err := in.Get(ctx)
		if errors.Is(err, bus.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		r.Route(ctx, env)
	}
}

// Route applies the first matching rule to env:
//  1. /mkgroup or /query from a user with a number, when group routing is on
//  2. text in a group with a known SMS route, from a user with a number
//  3. a reply quoting a relayed SMS, from a user with a number
//  4. /register, run in the background
//  5. any other command
//  6. the session reset text
//  7. any other text
func (r *Router) Route(ctx context.Context, env *domain.Envelope) {
	if env.Source == "" {
		return
	}
	start := time.Now()
	rule := r.route(ctx, env)
	if rule != "" {
		r.logger.Debug("envelope routed", "source", env.Source, "rule", rule, "duration", time.Since(start))
	}
}

func (r *Router) route(ctx context.Context, env *domain.Envelope) string {
	numbers, err := r.cfg.Routing.NumbersFor(ctx, env.Source)
	if err != nil {
		r.logger.Error("routing lookup failed", "source", env.Source, "error", err)
	}
	routable := len(numbers) > 0

	if routable && r.cfg.GroupRouting && (env.Command == "mkgroup" || env.Command == "query") {
		r.makeGroup(ctx, env, numbers[0])
		return "mkgroup"
	}
	// Messages with no body, such as a bare command, are never relayed.
	if routable && env.GroupID != "" && env.Text != "" {
		route, err := r.cfg.Groups.RouteForGroup(ctx, env.GroupID)
		if err == nil {
			r.relay(ctx, env, route.Our, route.Their, false)
			return "group_relay"
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Error("group route lookup failed", "group", env.GroupID, "error", err)
		}
	}
	if routable && env.QuotedText != "" {
		fields := domain.ParseFields(env.QuotedText)
		if _, ok := domain.Lookup(fields, "source"); ok {
			r.relayQuoted(ctx, env, fields)
			return "quote_relay"
		}
	}
	if env.Command == "register" {
		r.startRegistration(env)
		return "register"
	}
	if env.Command != "" {
		r.dispatch(ctx, env)
		return "command"
	}
	if env.Text == SessionResetText {
		r.reply(env, domain.Text("signal session reset"))
		return "reset"
	}
	if env.Text != "" {
		r.reply(env, domain.Text("That didn't look like a command"))
		return "text"
	}
	return ""
}

func (r *Router) dispatch(ctx context.Context, env *domain.Envelope) {
	handler, ok := r.handlers[env.Command]
	if !ok {
		r.reply(env, domain.Text(fmt.Sprintf("Sorry! Command %s not recognized! Try /help.", env.Command)))
		return
	}
	reply, err := handler(ctx, env)
	if err != nil {
		r.logger.Error("command failed", "command", env.Command, "source", env.Source, "error", err)
		reply = domain.Text("Sorry, I encountered an error: " + err.Error())
	}
	r.reply(env, reply)
}

// relayQuoted answers a reply to a relayed SMS: the quoted message names the
// external party as source and our number as destination.
func (r *Router) relayQuoted(ctx context.Context, env *domain.Envelope, fields []domain.Field) {
	their, okSource := domain.Lookup(fields, "source")
	our, okDest := domain.Lookup(fields, "destination")
	if !okSource || !okDest || their == "" || our == "" {
		r.reply(env, domain.Text("couldn't find the source and destination in the quoted message"))
		return
	}
	r.relay(ctx, env, our, their, true)
}

// relay sends env's text as an SMS from our to their and reacts to env.
// When forward is set the gateway's response is sent back to the user.
func (r *Router) relay(ctx context.Context, env *domain.Envelope, our, their string, forward bool) {
	res, err := r.sendSMS(ctx, our, their, env.Text)
	if err != nil {
		r.reply(env, smsFailure(err))
		return
	}
	r.react(EmojiSent, env)
	if forward {
		r.reply(env, domain.Table(res.Fields()...))
	}
}

func (r *Router) sendSMS(ctx context.Context, source, destination, text string) (domain.SmsResult, error) {
	res, err := r.cfg.SMS.SendSMS(ctx, source, destination, text)
	if err != nil {
		r.logger.Warn("sms send failed", "source", source, "destination", destination, "error", err)
		r.events.Emit(bus.Event{Type: bus.EventSMSFailed, Source: "router"})
		return res, err
	}
	r.events.Emit(bus.Event{Type: bus.EventSMSSent, Source: "router"})
	return res, nil
}

func smsFailure(err error) domain.Reply {
	return domain.Text("SMS delivery may have failed: " + err.Error())
}

// Send queues reply for addr, one send command per message. Recipients
// must be E.164 numbers.
func (r *Router) Send(addr domain.Address, reply domain.Reply) error {
	if addr.Recipient != "" && !phone.IsSignalFormat(addr.Recipient) {
		return fmt.Errorf("send to %q: %w", addr.Recipient, phone.ErrInvalid)
	}
	for _, body := range reply.Messages {
		cmd, err := domain.NewSend(addr, body, false)
		if err != nil {
			return err
		}
		if err := r.input.Put(cmd); err != nil {
			return fmt.Errorf("queue send: %w", err)
		}
	}
	return nil
}

func (r *Router) reply(env *domain.Envelope, reply domain.Reply) {
	if reply.Empty() {
		return
	}
	if err := r.Send(domain.Address{Recipient: env.Source}, reply); err != nil {
		r.logger.Warn("reply failed", "source", env.Source, "error", err)
	}
}

func (r *Router) react(emoji string, env *domain.Envelope) {
	cmd, err := domain.NewReaction(emoji, env)
	if err == nil {
		err = r.input.Put(cmd)
	}
	if err != nil {
		r.logger.Warn("reaction failed", "source", env.Source, "error", err)
	}
}

func (r *Router) queue(cmd domain.Command) {
	if err := r.input.Put(cmd); err != nil {
		r.logger.Warn("queue command failed", "command", cmd.Kind, "error", err)
	}
}
