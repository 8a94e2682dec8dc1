package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/finnwatch/internal/config"
	"github.com/rewired-gh/finnwatch/internal/history"
	"github.com/rewired-gh/finnwatch/internal/logger"
	"github.com/rewired-gh/finnwatch/internal/storage"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "finnwatch",
		Short: "Market event alerts from Finnhub and SEC EDGAR to Discord",
		Long: `finnwatch polls Finnhub for insider trades, insider sentiment, earnings
surprises, IPOs and SEC filings on a watchlist, and posts the significant,
not yet seen events to Discord webhooks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	root.AddCommand(newRunCmd(), newFeedsCmd(), newHistoryCmd())
	return root
}

// loadConfig reads the configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [feed...]",
		Short: "Run the named feeds, or every enabled feed",
		Long: `Run the named feeds, or every enabled feed, once in configured order.
When schedule.interval is set, keep running on that interval until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger.Info("Configuration loaded from %s", configPath)

			names, err := selectFeeds(cfg, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			return a.serve(ctx, names)
		},
	}
}

// selectFeeds validates explicit feed names against the configuration, or
// returns every enabled feed.
func selectFeeds(cfg *config.Config, args []string) ([]string, error) {
	if len(args) == 0 {
		return cfg.EnabledFeeds(), nil
	}
	for _, name := range args {
		fc, ok := cfg.Feeds.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown feed %q", name)
		}
		if !fc.Enabled {
			return nil, fmt.Errorf("feed %q is disabled", name)
		}
	}
	return args, nil
}

func newFeedsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List feeds and their settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-22s %-8s %-9s %-10s %s\n", "FEED", "ENABLED", "DEDUP", "RETENTION", "HISTORY")
			for _, f := range cfg.Feeds.All() {
				fmt.Fprintf(out, "%-22s %-8t %-9s %-10s %s\n",
					f.Name, f.Enabled, f.Dedup, retentionString(f.Retention.Hours()), f.HistoryPath)
			}
			return nil
		},
	}
}

func retentionString(hours float64) string {
	if hours <= 0 {
		return "forever"
	}
	return fmt.Sprintf("%sd", humanize.Ftoa(hours/24))
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <feed>",
		Short: "Show record counts of a feed's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fc, ok := cfg.Feeds.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown feed %q", args[0])
			}
			mode, err := history.ParseMode(fc.Dedup)
			if err != nil {
				return err
			}

			if _, err := os.Stat(fc.HistoryPath); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no history at %s\n", args[0], fc.HistoryPath)
				return nil
			}

			backend, err := storage.Open(fc.HistoryPath)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer func() {
				if err := backend.Close(); err != nil {
					logger.Error("Failed to close history: %v", err)
				}
			}()

			store := history.New(backend, history.Policy{Mode: mode, Window: fc.RecheckWindow})
			store.Load(cmd.Context())
			fmt.Fprint(cmd.OutOrStdout(), formatStats(args[0], fc.HistoryPath, store.Stats()))
			return nil
		},
	}
}

func formatStats(feed, path string, st history.Stats) string {
	s := fmt.Sprintf("%s (%s)\n  records: %s\n  alerted: %s\n",
		feed, path, humanize.Comma(int64(st.Records)), humanize.Comma(int64(st.Alerted)))
	if st.Records > 0 {
		s += fmt.Sprintf("  first seen: %s .. %s\n",
			st.OldestFirstSeen.UTC().Format("2006-01-02 15:04"), st.NewestFirstSeen.UTC().Format("2006-01-02 15:04"))
	}
	return s
}
