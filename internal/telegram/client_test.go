package telegram

import (
	"testing"
	"time"

	"github.com/rewired-gh/finnwatch/internal/discord"
	"github.com/rewired-gh/finnwatch/internal/pipeline"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// chat ID is parsed before the bot token is checked against the API
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestFormatSummary(t *testing.T) {
	summaries := []pipeline.Summary{
		{Feed: "form4", Queries: 77, Observed: 412, Notified: 5, Delivery: discord.Result{Sent: 5}},
		{Feed: "ipo_calendar", Queries: 2, FailedQueries: 1, Observed: 3, Notified: 1, Delivery: discord.Result{Failed: 1}},
	}

	got := formatSummary(summaries)
	want := "📊 *finnwatch run*\n\n" +
		"• form4: 412 observed, 5 notified, 5 sent\n" +
		"• ipo\\_calendar: 3 observed, 1 notified, 0 sent, 1/2 queries failed, 1 undelivered\n"
	if got != want {
		t.Errorf("formatSummary() =\n%q\nwant\n%q", got, want)
	}
}

func TestFormatStatus(t *testing.T) {
	at := time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)
	got := formatStatus([]pipeline.Summary{{Feed: "form8k", Notified: 2, HistoryRecords: 130}}, at)
	want := "Last run 2024-05-06 15:00:00 UTC\nform8k: 2 notified, 130 records"
	if got != want {
		t.Errorf("formatStatus() = %q, want %q", got, want)
	}
}
