// Package telegram provides an operator channel via the Telegram Bot API:
// failure and recovery notices for the scheduled loop, and a few bot commands.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/finnwatch/internal/pipeline"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration

	mu     sync.Mutex
	status string
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		status:         "No run completed yet",
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		c.mu.Lock()
		text = c.status
		c.mu.Unlock()
	default:
		return
	}
	c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)) //nolint:errcheck
}

// SetStatus records the plain-text answer to /status.
func (c *Client) SetStatus(summaries []pipeline.Summary, at time.Time) {
	text := formatStatus(summaries, at)
	c.mu.Lock()
	c.status = text
	c.mu.Unlock()
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a run failure notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *finnwatch run failed*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *finnwatch recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSummary sends the per-feed results of one run.
func (c *Client) SendSummary(summaries []pipeline.Summary) error {
	return c.sendMarkdownV2(formatSummary(summaries))
}

// formatSummary formats run summaries into a Telegram MarkdownV2 message.
func formatSummary(summaries []pipeline.Summary) string {
	var b strings.Builder
	b.WriteString("📊 *finnwatch run*\n\n")
	for _, s := range summaries {
		line := fmt.Sprintf("%s: %d observed, %d notified, %d sent",
			s.Feed, s.Observed, s.Notified, s.Delivery.Sent)
		if s.FailedQueries > 0 {
			line += fmt.Sprintf(", %d/%d queries failed", s.FailedQueries, s.Queries)
		}
		if s.Delivery.Failed > 0 {
			line += fmt.Sprintf(", %d undelivered", s.Delivery.Failed)
		}
		b.WriteString("• ")
		b.WriteString(escapeMarkdownV2(line))
		b.WriteString("\n")
	}
	return b.String()
}

func formatStatus(summaries []pipeline.Summary, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last run %s\n", at.UTC().Format("2006-01-02 15:04:05 MST"))
	for _, s := range summaries {
		fmt.Fprintf(&b, "%s: %d notified, %d records\n", s.Feed, s.Notified, s.HistoryRecords)
	}
	return strings.TrimRight(b.String(), "\n")
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
