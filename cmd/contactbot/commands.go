package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"contactbot/internal/bus"
	"contactbot/internal/payments"
	"contactbot/internal/phone"
	"contactbot/internal/provider"
	"contactbot/internal/store"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var normalize bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if normalize {
				n, err := st.NormalizeDestinations(cmd.Context(), phone.SignalFormat)
				if err != nil {
					return fmt.Errorf("normalize destinations: %w", err)
				}
				fmt.Printf("normalized %d destination(s)\n", n)
			}
			v, err := st.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (%s)\n", v, cfg.Store.DBPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&normalize, "normalize", false, "rewrite stored destinations in E.164 form")
	return cmd
}

func paymentsMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payments-monitor",
		Short: "Poll the wallet and record incoming payments",
		Long:  "Runs only the payment monitor, for deployments where the bot and the wallet poller live in separate processes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			monitor := payments.NewMonitor(payments.MonitorConfig{
				Source: provider.NewWalletClient(provider.WalletConfig{
					URL:       cfg.Wallet.URL,
					AccountID: cfg.Wallet.AccountID,
					Client:    provider.SharedHTTPClient(30 * time.Second),
					Logger:    logger,
				}),
				Sink:     st,
				Interval: seconds(cfg.Wallet.PollSeconds),
				Events:   bus.NewEventBus(logger),
				Logger:   logger,
			})
			logger.Info("payments monitor started", "wallet", cfg.Wallet.URL)
			return monitor.Run(ctx)
		},
	}
}

func numbersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "numbers",
		Short: "Manage the pool of owned phone numbers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [number...]",
		Short: "Add numbers to the available pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			for _, raw := range args {
				n, err := phone.TeliFormat(raw)
				if err != nil {
					return fmt.Errorf("%s: %w", raw, err)
				}
				if err := st.AddAvailable(cmd.Context(), n); err != nil {
					return err
				}
				fmt.Printf("added %s\n", n)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List owned numbers and where they route",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.ListNumbers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NUMBER\tSTATUS\tDESTINATION")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Status, r.Destination)
			}
			return tw.Flush()
		},
	})

	return cmd
}
