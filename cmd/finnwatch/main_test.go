package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/finnwatch/internal/config"
	"github.com/rewired-gh/finnwatch/internal/history"
	"github.com/rewired-gh/finnwatch/internal/significance"
)

func TestFeedSettings(t *testing.T) {
	s, p, err := feedSettings(config.FeedConfig{
		Lookback:      72 * time.Hour,
		Retention:     30 * 24 * time.Hour,
		Dedup:         "windowed",
		RecheckWindow: 48 * time.Hour,
		MinPrimary:    5,
		MissingValue:  "include",
		PerQueryLimit: 1,
		MaxAlerts:     4,
	})
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, s.Lookback)
	assert.Equal(t, 30*24*time.Hour, s.Retention)
	assert.Equal(t, significance.MissingInclude, s.Missing)
	assert.Equal(t, 1, s.PerQueryLimit)
	assert.Equal(t, 4, s.MaxAlerts)
	assert.Equal(t, history.Policy{Mode: history.ModeWindowed, Window: 48 * time.Hour}, p)

	_, p, err = feedSettings(config.FeedConfig{Dedup: "simple", RecheckWindow: time.Hour, MissingValue: "exclude"})
	require.NoError(t, err)
	assert.Equal(t, history.Policy{Mode: history.ModeSimple}, p, "window only applies to windowed dedup")

	_, _, err = feedSettings(config.FeedConfig{Dedup: "bogus"})
	assert.Error(t, err)
	_, _, err = feedSettings(config.FeedConfig{Dedup: "simple", MissingValue: "bogus"})
	assert.Error(t, err)
}

func TestSelectFeeds(t *testing.T) {
	cfg := &config.Config{Feeds: config.FeedsConfig{
		InsiderTransactions: config.FeedConfig{Enabled: true},
		Form4:               config.FeedConfig{Enabled: true},
	}}

	names, err := selectFeeds(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"insider_transactions", "form4"}, names)

	names, err = selectFeeds(cfg, []string{"form4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"form4"}, names)

	_, err = selectFeeds(cfg, []string{"form8k"})
	assert.ErrorContains(t, err, "disabled")

	_, err = selectFeeds(cfg, []string{"weather"})
	assert.ErrorContains(t, err, "unknown feed")
}

func TestCycleResultAllFailed(t *testing.T) {
	assert.False(t, cycleResult{}.AllFailed())
	assert.False(t, cycleResult{Total: 3, Failed: 2}.AllFailed())
	assert.True(t, cycleResult{Total: 3, Failed: 3}.AllFailed())
}

func TestRetentionString(t *testing.T) {
	assert.Equal(t, "forever", retentionString(0))
	assert.Equal(t, "30d", retentionString(720))
	assert.Equal(t, "1.5d", retentionString(36))
}

func TestFormatStats(t *testing.T) {
	first := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	got := formatStats("form4", "./data/form4.db", history.Stats{
		Records:         1204,
		Alerted:         37,
		OldestFirstSeen: first,
		NewestFirstSeen: first.Add(48 * time.Hour),
	})
	assert.Equal(t, "form4 (./data/form4.db)\n  records: 1,204\n  alerted: 37\n  first seen: 2024-05-01 09:30 .. 2024-05-03 09:30\n", got)

	assert.Equal(t, "form4 (x.db)\n  records: 0\n  alerted: 0\n", formatStats("form4", "x.db", history.Stats{}))
}
