// Package channel serves the HTTP surface: inbound SMS from the gateway and
// the metrics endpoint.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"contactbot/internal/bus"
	"contactbot/internal/domain"
)

// Redirect target for GET /.
const HomeURL = "https://signal.org/"

// Sender delivers a reply through the live messaging session.
type Sender interface {
	Send(addr domain.Address, reply domain.Reply) error
}

// RouteLookup resolves owned numbers to users and SMS pairs to groups.
type RouteLookup interface {
	Destination(ctx context.Context, number string) (string, error)
}

// GroupLookup finds the group relaying an SMS pair.
type GroupLookup interface {
	GroupForRoute(ctx context.Context, their, our string) (string, error)
}

// InboundConfig configures the inbound HTTP server.
type InboundConfig struct {
	Addr        string // listen address (default :8080)
	Path        string // inbound SMS path (default /inbound)
	Secret      string // optional HMAC secret for X-Signature-256
	Admin       string // recipient for SMS to unknown numbers
	Routing     RouteLookup
	Groups      GroupLookup
	Metrics     http.Handler
	MetricsPath string // default /metrics
	Events      *bus.EventBus
	Logger      *slog.Logger
}

type senderRef struct{ Sender }

// Inbound accepts SMS posted by the gateway and delivers them through the
// current session, if any.
type Inbound struct {
	cfg    InboundConfig
	sender atomic.Pointer[senderRef]
	logger *slog.Logger
	server *http.Server
}

// NewInbound creates the inbound server.
func NewInbound(cfg InboundConfig) *Inbound {
	if cfg.Path == "" {
		cfg.Path = "/inbound"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	in := &Inbound{cfg: cfg, logger: cfg.Logger}
	in.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           in.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return in
}

// SetSender installs the live session's sender; nil clears it.
func (in *Inbound) SetSender(s Sender) {
	if s == nil {
		in.sender.Store(nil)
		return
	}
	in.sender.Store(&senderRef{s})
}

func (in *Inbound) currentSender() Sender {
	if ref := in.sender.Load(); ref != nil {
		return ref.Sender
	}
	return nil
}

// Handler returns the HTTP routes.
func (in *Inbound) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+in.cfg.Path, in.handleInbound)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, HomeURL, http.StatusFound)
	})
	if in.cfg.Metrics != nil {
		mux.Handle("GET "+in.cfg.MetricsPath, in.cfg.Metrics)
	}
	return mux
}

// Start serves until ctx is done.
func (in *Inbound) Start(ctx context.Context) error {
	in.logger.Info("inbound server starting", "addr", in.cfg.Addr, "path", in.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := in.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return in.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("inbound server: %w", err)
	}
}

// Shutdown stops the server, waiting up to five seconds for open requests.
func (in *Inbound) Shutdown(ctx context.Context) error {
	in.logger.Info("inbound server shutting down")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return in.server.Shutdown(ctx)
}

func (in *Inbound) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if in.cfg.Secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(w, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, in.cfg.Secret, sig) {
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		in.logger.Warn("inbound body is not a form", "error", err)
	}
	sms := domain.SmsMessage{
		Source:      form.Get("source"),
		Destination: form.Get("destination"),
		Message:     form.Get("message"),
	}
	in.logger.Info("inbound sms", "source", sms.Source, "destination", sms.Destination, "len", len(sms.Message))
	in.cfg.Events.Emit(bus.Event{Type: bus.EventSMSInbound, Source: "inbound"})

	ctx := r.Context()
	recipient, err := in.cfg.Routing.Destination(ctx, sms.Destination)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			in.logger.Error("destination lookup failed", "destination", sms.Destination, "error", err)
		}
		in.logger.Info("falling back to admin", "destination", sms.Destination)
		recipient = in.cfg.Admin
		sms.Message = "destination not found for " + sms.String()
	}

	sender := in.currentSender()
	if sender == nil {
		http.Error(w, "Sorry, no live workers.", http.StatusGatewayTimeout)
		return
	}

	group, err := in.cfg.Groups.GroupForRoute(ctx, sms.Source, sms.Destination)
	switch {
	case err == nil:
		in.logger.Debug("relaying inbound sms to group", "group", group)
		err = sender.Send(domain.Address{Group: group}, domain.Text(sms.Message))
	case errors.Is(err, domain.ErrNotFound):
		err = sender.Send(domain.Address{Recipient: recipient}, domain.Table(sms.Fields()...))
	}
	if err != nil {
		in.logger.Error("inbound sms delivery failed", "destination", sms.Destination, "error", err)
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "TY!")
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
