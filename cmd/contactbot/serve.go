package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"contactbot/internal/bus"
	"contactbot/internal/channel"
	"contactbot/internal/config"
	"contactbot/internal/daemon"
	"contactbot/internal/domain"
	"contactbot/internal/metrics"
	"contactbot/internal/payments"
	"contactbot/internal/phone"
	"contactbot/internal/provider"
	"contactbot/internal/router"
	"contactbot/internal/session"
	"contactbot/internal/store"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: daemon session, inbound SMS server, payment monitor",
		Long:  "Claims the bot identity, launches the messaging daemon, and serves until interrupted. Press Ctrl+C to stop; a third Ctrl+C exits immediately.",
		RunE:  runServe,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Required(cfg); err != nil {
		return err
	}
	identity, err := phone.SignalFormat(cfg.Bot.Number)
	if err != nil {
		return fmt.Errorf("bot number %q: %w", cfg.Bot.Number, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	st.SetIntentTTL(time.Duration(cfg.Store.IntentTTLMinutes) * time.Minute)
	if cfg.Bot.Migrate {
		n, err := st.NormalizeDestinations(ctx, phone.SignalFormat)
		if err != nil {
			st.Close()
			return fmt.Errorf("normalize destinations: %w", err)
		}
		logger.Info("destinations normalized", "updated", n)
	}

	events := bus.NewEventBus(logger)
	collector := metrics.NewCollector()
	collector.Subscribe(events)

	client := provider.SharedHTTPClient(30 * time.Second)
	teli := provider.NewTeliClient(provider.TeliConfig{
		Token:  cfg.Teli.Token,
		SMSURL: cfg.Teli.SMSURL,
		APIURL: cfg.Teli.APIURL,
		Client: client,
		Logger: logger,
	})
	prices := newPriceOracle(cfg, client)
	wallet := provider.NewWalletClient(provider.WalletConfig{
		URL:       cfg.Wallet.URL,
		AccountID: cfg.Wallet.AccountID,
		Client:    client,
		Logger:    logger,
	})
	walletAddress := cfg.Wallet.Address
	if walletAddress == "" {
		if walletAddress, err = wallet.Address(ctx); err != nil {
			logger.Warn("wallet address lookup failed; registration instructions will omit it", "error", err)
		}
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = collector.Handler()
	}
	inbound := channel.NewInbound(channel.InboundConfig{
		Addr:        net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Secret:      cfg.HTTP.Secret,
		Admin:       cfg.General.Admin,
		Routing:     st,
		Groups:      st,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Endpoint,
		Events:      events,
		Logger:      logger,
	})

	monitor := payments.NewMonitor(payments.MonitorConfig{
		Source:   wallet,
		Sink:     st,
		Interval: seconds(cfg.Wallet.PollSeconds),
		Events:   events,
		Logger:   logger,
	})

	supervisor := daemon.NewSupervisor(daemon.SupervisorConfig{
		Executable: cfg.Daemon.Executable,
		DataDir:    cfg.Daemon.DataDir,
		Identity:   identity,
		Profile: daemon.Profile{
			GivenName:  cfg.Bot.GivenName,
			FamilyName: cfg.General.Env,
			Avatar:     cfg.Bot.Avatar,
		},
		ProfileTimeout: seconds(cfg.Daemon.ProfileTimeoutSeconds),
		GracePeriod:    seconds(cfg.Daemon.GraceSeconds),
		Events:         events,
		Logger:         logger,
	})

	tasks := router.NewTaskTracker(0, logger)
	sess := session.New(session.Config{
		Identity: identity,
		Owner:    sessionOwner(),
		DataDir:  cfg.Daemon.DataDir,
		Accounts: st,
		Daemon:   supervisor,
		Router: router.Config{
			Routing:      st,
			Groups:       st,
			Payments:     st,
			SMS:          teli,
			Numbers:      teli,
			Prices:       prices,
			Tasks:        tasks,
			GroupRouting: cfg.Bot.GroupRoutes,
			Ordering:     cfg.Bot.Ordering,
			InboundURL:   strings.TrimSuffix(cfg.HTTP.PublicURL, "/") + "/inbound",
			Registration: router.RegistrationConfig{
				WalletAddress: walletAddress,
				PriceUSD:      cfg.Price.USD,
				FallbackRate:  cfg.Price.FallbackRate,
				PollAttempts:  cfg.Price.PollAttempts,
				PollInterval:  seconds(cfg.Price.PollSeconds),
			},
		},
		Inbound: inbound,
		Events:  events,
		Logger:  logger,
	})

	sessionDone := make(chan struct{})
	coord := session.NewCoordinator(session.CoordinatorConfig{
		Timeout: seconds(cfg.Shutdown.TimeoutSeconds),
		Events:  events,
		Logger:  logger,
	})
	coord.Add("upload account state", func(ctx context.Context) error {
		if !sess.Claimed() {
			return nil
		}
		return st.Upload(ctx, identity, cfg.Daemon.DataDir)
	})
	coord.Add("terminate daemon", func(context.Context) error {
		supervisor.Terminate(true)
		return nil
	})
	coord.Add("mark identity freed", func(ctx context.Context) error {
		if !sess.Claimed() {
			return nil
		}
		return st.MarkFreed(ctx, identity)
	})
	coord.Add("cancel registrations", func(ctx context.Context) error {
		tasks.CancelAll()
		return tasks.Wait(ctx)
	})
	coord.Add("stop http", inbound.Shutdown)
	coord.Add("stop workers", func(ctx context.Context) error {
		cancel()
		select {
		case <-sessionDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	coord.Add("close store", func(context.Context) error { return st.Close() })

	sigCtx, stopSignals := context.WithCancel(context.Background())
	defer stopSignals()
	coord.Notify(sigCtx, os.Interrupt, syscall.SIGTERM)

	var fatal atomic.Pointer[error]
	fail := func(reason string, err error) {
		if coord.State() != session.StateRunning {
			return
		}
		logger.Error(reason, "error", err)
		fatal.CompareAndSwap(nil, &err)
		go coord.Shutdown(reason)
	}

	go func() {
		if err := inbound.Start(ctx); err != nil {
			fail("inbound server failed", err)
		}
	}()
	go func() { _ = monitor.Run(ctx) }()
	go func() {
		defer close(sessionDone)
		err := sess.Run(ctx)
		if err == nil {
			err = fmt.Errorf("session stopped")
		}
		fail("session ended", err)
	}()

	logger.Info("contactbot started", "version", version, "identity", identity,
		"groups", cfg.Bot.GroupRoutes, "ordering", cfg.Bot.Ordering)
	<-coord.Done()

	if err := fatal.Load(); err != nil {
		return *err
	}
	return nil
}

// newPriceOracle tries each configured ticker in order.
func newPriceOracle(cfg *config.Config, client *http.Client) domain.PriceOracle {
	urls := cfg.Price.URLs
	if len(urls) == 0 {
		urls = []string{provider.DefaultPriceURL}
	}
	oracles := make([]domain.PriceOracle, 0, len(urls))
	for _, u := range urls {
		oracles = append(oracles, provider.NewBigOneOracle(u, client, logger))
	}
	return provider.NewFailoverOracle(oracles, logger)
}

func sessionOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}
