package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/service"
	"rceutils-bot/pkg/duration"
)

// TelegramSender - то, что нужно от pkg/telegram.Client
type TelegramSender interface {
	SendHTML(text string) error
}

// Telegram дублирует записи лог-канала в служебный чат
type Telegram struct {
	client TelegramSender
}

func NewTelegram(client TelegramSender) *Telegram {
	return &Telegram{client: client}
}

func (t *Telegram) Mirror(ctx context.Context, entry service.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.client.SendHTML(FormatAlert(entry))
}

// FormatAlert - текст уведомления для Telegram
func FormatAlert(entry service.LogEntry) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("%s <b>%s</b>", eventEmoji(entry.Event), html.EscapeString(entry.Title)))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("🆔 LOA: %d", entry.LoaID))
	lines = append(lines, fmt.Sprintf("👤 Discord ID: %s", html.EscapeString(entry.UserID)))
	lines = append(lines, fmt.Sprintf("⏱ Длительность: %s", duration.Format(entry.DurationMs)))

	if !entry.StartTime.IsZero() && !entry.EndTime.IsZero() {
		lines = append(lines, fmt.Sprintf("📅 %s - %s",
			entry.StartTime.UTC().Format("02.01.2006 15:04"),
			entry.EndTime.UTC().Format("02.01.2006 15:04 UTC")))
	}
	if entry.Actor != "" {
		lines = append(lines, fmt.Sprintf("👮 Кем: %s", html.EscapeString(entry.Actor)))
	}
	if entry.Reason != "" {
		lines = append(lines, fmt.Sprintf("📝 Причина: %s", html.EscapeString(entry.Reason)))
	}

	return strings.Join(lines, "\n")
}

func eventEmoji(event string) string {
	switch event {
	case models.EventRequested:
		return "📨"
	case models.EventApproved:
		return "✅"
	case models.EventDenied:
		return "❌"
	case models.EventExtended, models.EventMerged:
		return "⏩"
	default:
		return "🏁"
	}
}
