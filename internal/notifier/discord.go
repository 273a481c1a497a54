package notifier

import (
	"context"
	"fmt"
	"time"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/service"
	"rceutils-bot/pkg/discord"
	"rceutils-bot/pkg/duration"

	"github.com/bwmarrin/discordgo"
)

// Цвета embed по событию
const (
	colorRequested = 0x3498DB
	colorApproved  = 0x2ECC71
	colorDenied    = 0xE74C3C
	colorEnded     = 0x95A5A6
	colorExtended  = 0xF1C40F
)

// DiscordSender - то, что нужно от pkg/discord.Client
type DiscordSender interface {
	SendDirectMessage(ctx context.Context, userID, content string) error
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

// Discord реализует service.Notifier через бота
type Discord struct {
	client DiscordSender
}

func NewDiscord(client DiscordSender) *Discord {
	return &Discord{client: client}
}

func (d *Discord) DirectMessage(ctx context.Context, userID, content string) error {
	return d.client.SendDirectMessage(ctx, userID, content)
}

// PostToLogChannel без настроенного канала ничего не делает
func (d *Discord) PostToLogChannel(ctx context.Context, guildID, channelID string, entry service.LogEntry) error {
	if channelID == "" {
		return nil
	}
	return d.client.SendEmbed(ctx, channelID, LogEmbed(entry))
}

// LogEmbed собирает embed для лог-канала
func LogEmbed(entry service.LogEntry) *discordgo.MessageEmbed {
	e := discord.NewEmbed().
		SetTitle(entry.Title).
		AddInlineField("User", discord.Mention(entry.UserID)).
		AddInlineField("LOA ID", fmt.Sprintf("%d", entry.LoaID)).
		AddInlineField("Duration", duration.Format(entry.DurationMs))

	if !entry.StartTime.IsZero() {
		e.AddInlineField("Start", discord.Timestamp(entry.StartTime))
	}
	if !entry.EndTime.IsZero() {
		e.AddInlineField("End", discord.Timestamp(entry.EndTime))
	}
	if entry.Actor != "" {
		e.AddInlineField("By", discord.Mention(entry.Actor))
	}

	e.AddField("Reason", entry.Reason).
		SetColor(eventColor(entry.Event)).
		SetTimestamp(time.Now().UTC().Format(time.RFC3339))

	return e.MessageEmbed
}

func eventColor(event string) int {
	switch event {
	case models.EventRequested:
		return colorRequested
	case models.EventApproved:
		return colorApproved
	case models.EventDenied:
		return colorDenied
	case models.EventExtended, models.EventMerged:
		return colorExtended
	default:
		return colorEnded
	}
}
