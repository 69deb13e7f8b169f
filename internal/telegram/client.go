// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// SnapshotProvider returns the latest published snapshot, or nil.
type SnapshotProvider func() *models.Snapshot

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	latest         SnapshotProvider
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
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
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
// latest backs the /liquidity command and may be nil.
func (c *Client) ListenForCommands(ctx context.Context, latest SnapshotProvider) {
	c.latest = latest

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
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "liquidity":
		reply := tgbotapi.NewMessage(msg.Chat.ID, commandReply(c.latest))
		reply.ParseMode = "MarkdownV2"
		c.bot.Send(reply) //nolint:errcheck
	}
}

func commandReply(latest SnapshotProvider) string {
	if latest == nil {
		return escapeMarkdownV2("No snapshot available yet.")
	}
	snap := latest()
	if snap == nil {
		return escapeMarkdownV2("No snapshot available yet.")
	}
	return formatMessage(snap)
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

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// Send sends the liquidity digest for a snapshot.
func (c *Client) Send(snap *models.Snapshot) error {
	return c.sendMarkdownV2(formatMessage(snap))
}

var conditionEmoji = map[models.Condition]string{
	models.ConditionExpansionary:   "🟢",
	models.ConditionNeutral:        "⚪",
	models.ConditionContractionary: "🔴",
}

var outlookEmoji = map[models.Outlook]string{
	models.OutlookBullish: "📈",
	models.OutlookBearish: "📉",
	models.OutlookNeutral: "➖",
}

// formatMessage formats a snapshot into a Telegram MarkdownV2 digest.
func formatMessage(snap *models.Snapshot) string {
	var b strings.Builder
	agg := snap.Aggregate

	fmt.Fprintf(&b, "%s *Net Liquidity: %s*\n",
		conditionEmoji[snap.Narrative.Condition],
		escapeMarkdownV2(string(snap.Narrative.Condition)))
	fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(snap.CycleAt.UTC().Format("2006-01-02 15:04 MST")))

	fmt.Fprintf(&b, "💵 %s → *%s*\n",
		escapeMarkdownV2(humanize.Commaf(agg.Previous)),
		escapeMarkdownV2(humanize.Commaf(agg.Current)))
	fmt.Fprintf(&b, "Δ %s \\(%s\\)\n\n",
		escapeMarkdownV2(signed(agg.Change)),
		escapeMarkdownV2(agg.PctChange.String()))

	att := snap.Attribution
	if att.Primary != nil {
		fmt.Fprintf(&b, "🥇 %s\n", escapeMarkdownV2(att.Primary.Description))
	}
	if att.Secondary != nil {
		fmt.Fprintf(&b, "🥈 %s \\(%s\\)\n",
			escapeMarkdownV2(att.Secondary.Description),
			escapeMarkdownV2(string(att.Relation)))
	}
	for _, i := range att.Interactions {
		fmt.Fprintf(&b, "🔁 %s\n", escapeMarkdownV2(i.Description()))
	}

	if len(snap.Narrative.Implications) > 0 {
		b.WriteString("\n")
		for _, m := range models.Markets {
			o, ok := snap.Narrative.Implications[m]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "%s %s: %s\n", outlookEmoji[o],
				escapeMarkdownV2(string(m)), escapeMarkdownV2(string(o)))
		}
	}

	if snap.Regime != "" && snap.Regime != models.RegimeUnknown {
		fmt.Fprintf(&b, "\nRegime: %s\n", escapeMarkdownV2(string(snap.Regime)))
	}
	for _, r := range models.RolePriority {
		if n, ok := snap.Nodes[r]; ok && n.Stale {
			fmt.Fprintf(&b, "⏳ %s is last known data\n", escapeMarkdownV2(r.Label()))
		}
	}

	if snap.Narrative.Commentary != "" {
		fmt.Fprintf(&b, "\n%s\n", escapeMarkdownV2(snap.Narrative.Commentary))
	}
	return b.String()
}

func signed(v float64) string {
	if v > 0 {
		return "+" + humanize.Commaf(v)
	}
	return humanize.Commaf(v)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
