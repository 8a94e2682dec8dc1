package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/finnwatch/internal/config"
	"github.com/rewired-gh/finnwatch/internal/discord"
	"github.com/rewired-gh/finnwatch/internal/edgar"
	"github.com/rewired-gh/finnwatch/internal/feeds"
	"github.com/rewired-gh/finnwatch/internal/finnhub"
	"github.com/rewired-gh/finnwatch/internal/history"
	"github.com/rewired-gh/finnwatch/internal/logger"
	"github.com/rewired-gh/finnwatch/internal/metrics"
	"github.com/rewired-gh/finnwatch/internal/pipeline"
	"github.com/rewired-gh/finnwatch/internal/significance"
	"github.com/rewired-gh/finnwatch/internal/storage"
	"github.com/rewired-gh/finnwatch/internal/telegram"
)

const pushTimeout = 10 * time.Second

// app holds the collaborators shared by every feed of a process.
type app struct {
	cfg      *config.Config
	sources  feeds.Sources
	metrics  *metrics.Recorder
	telegram *telegram.Client
}

func newApp(cfg *config.Config) (*app, error) {
	pool, err := finnhub.NewCredentialPool(cfg.Finnhub.APIKeys)
	if err != nil {
		return nil, err
	}
	fh := finnhub.NewClient(cfg.Finnhub.BaseURL, pool, cfg.Finnhub.Timeout, finnhub.ClientConfig{
		MaxRetries:     cfg.Finnhub.MaxRetries,
		RetryDelayBase: cfg.Finnhub.RetryDelayBase,
		MinInterval:    cfg.Finnhub.MinInterval,
	})
	logger.Info("Finnhub client ready with %d API key(s)", fh.Credentials())

	a := &app{
		cfg: cfg,
		sources: feeds.Sources{
			Finnhub: fh,
			EDGAR: edgar.NewClient(edgar.Config{
				UserAgent:   cfg.EDGAR.UserAgent,
				MinInterval: cfg.EDGAR.MinInterval,
				Timeout:     cfg.EDGAR.Timeout,
			}),
			Watchlist: cfg.Watchlist,
		},
		metrics: metrics.New(),
	}

	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	return a, nil
}

// cycleResult is the outcome of running a set of feeds once.
type cycleResult struct {
	Summaries []pipeline.Summary
	Failed    int
	Total     int
	Err       error
}

// AllFailed reports whether no feed completed.
func (r cycleResult) AllFailed() bool {
	return r.Total > 0 && r.Failed == r.Total
}

// serve runs the feeds once, then on every schedule tick until ctx is done.
func (a *app) serve(ctx context.Context, names []string) error {
	interval := a.cfg.Schedule.Interval

	res := a.runCycle(ctx, names)
	if interval <= 0 {
		if ctx.Err() != nil {
			logger.Info("Run interrupted")
			return nil
		}
		if res.Err != nil && a.telegram != nil {
			if sendErr := a.telegram.SendError(res.Err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		if res.AllFailed() {
			return fmt.Errorf("all %d feed(s) failed: %w", res.Total, res.Err)
		}
		return nil
	}

	if a.telegram != nil {
		a.telegram.ListenForCommands(ctx)
	}
	logger.Info("Starting scheduled service (interval: %v, feeds: %v)", interval, names)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handle := func(res cycleResult) {
		if ctx.Err() != nil {
			return
		}
		if res.Err != nil {
			consecutiveFailures++
			logger.Error("Run cycle failed: %v", res.Err)
			if consecutiveFailures == 1 && a.telegram != nil {
				if sendErr := a.telegram.SendError(res.Err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && a.telegram != nil {
			if sendErr := a.telegram.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}
	handle(res)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return nil
		case <-ticker.C:
			logger.Debug("Starting scheduled run cycle")
			handle(a.runCycle(ctx, names))
		}
	}
}

// runCycle runs each named feed in order. A failing feed does not stop the
// ones after it.
func (a *app) runCycle(ctx context.Context, names []string) cycleResult {
	runID := uuid.NewString()
	logger.SetField("run_id", runID)
	start := time.Now()
	logger.Info("Starting run %s (%d feed(s))", runID, len(names))

	var res cycleResult
	var errs []error
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		res.Total++
		sum, err := a.runFeed(ctx, name)
		if sum.Feed != "" {
			res.Summaries = append(res.Summaries, sum)
		}
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			logger.Error("[%s] Feed run failed: %v", name, err)
		}
	}
	res.Err = errors.Join(errs...)

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := a.metrics.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, nil); err != nil {
		logger.Warn("%v", err)
	}

	if a.telegram != nil && ctx.Err() == nil {
		a.telegram.SetStatus(res.Summaries, start)
		if a.cfg.Telegram.NotifySummary && len(res.Summaries) > 0 {
			if err := a.telegram.SendSummary(res.Summaries); err != nil {
				logger.Warn("Failed to send run summary to Telegram: %v", err)
			}
		}
	}

	logger.Info("Run %s completed in %v: %d/%d feed(s) failed", runID, time.Since(start).Round(time.Millisecond), res.Failed, res.Total)
	return res
}

// runFeed opens the feed's history, runs it and closes the history again.
func (a *app) runFeed(ctx context.Context, name string) (pipeline.Summary, error) {
	fc, ok := a.cfg.Feeds.Get(name)
	if !ok {
		return pipeline.Summary{}, fmt.Errorf("unknown feed %q", name)
	}
	settings, policy, err := feedSettings(fc)
	if err != nil {
		return pipeline.Summary{}, err
	}
	runner, err := feeds.Build(name, a.sources, settings)
	if err != nil {
		return pipeline.Summary{}, err
	}

	backend, err := storage.Open(fc.HistoryPath)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("failed to open history: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("[%s] Failed to close history: %v", name, err)
		}
	}()

	return runner.Run(ctx, pipeline.Deps{
		History: history.New(backend, policy),
		Delivery: discord.NewClient(fc.WebhookURL, discord.Options{
			Timeout:   a.cfg.Discord.Timeout,
			BatchSize: a.cfg.Discord.BatchSize,
			Cooldown:  a.cfg.Discord.Cooldown,
			Interval:  a.cfg.Discord.Interval,
		}),
		Metrics: a.metrics,
	})
}

// feedSettings converts one feed's configuration into runtime settings.
func feedSettings(fc config.FeedConfig) (feeds.Settings, history.Policy, error) {
	mode, err := history.ParseMode(fc.Dedup)
	if err != nil {
		return feeds.Settings{}, history.Policy{}, err
	}
	missing, err := significance.ParseMissingPolicy(fc.MissingValue)
	if err != nil {
		return feeds.Settings{}, history.Policy{}, err
	}

	s := feeds.Settings{
		Lookback:      fc.Lookback,
		Lookahead:     fc.Lookahead,
		MinPrimary:    fc.MinPrimary,
		MinSecondary:  fc.MinSecondary,
		Missing:       missing,
		PerQueryLimit: fc.PerQueryLimit,
		MaxAlerts:     fc.MaxAlerts,
		Retention:     fc.Retention,
	}
	p := history.Policy{Mode: mode}
	if mode == history.ModeWindowed {
		p.Window = fc.RecheckWindow
	}
	return s, p, nil
}
