package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"rceutils-bot/internal/config"
	"rceutils-bot/internal/service"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const interactionTimeout = 10 * time.Second

// MessagePoster - отправка сообщения с кнопками в канал ревью
type MessagePoster interface {
	SendComplex(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
}

type Handler struct {
	leaves   *service.LeaveService
	staff    *service.StaffService
	roles    *service.RoleSync
	notifier service.Notifier
	poster   MessagePoster
	config   *config.BotConfig
	logger   *logrus.Logger
}

func NewHandler(
	leaves *service.LeaveService,
	staff *service.StaffService,
	roles *service.RoleSync,
	notifier service.Notifier,
	poster MessagePoster,
	cfg *config.BotConfig,
	logger *logrus.Logger,
) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		leaves:   leaves,
		staff:    staff,
		roles:    roles,
		notifier: notifier,
		poster:   poster,
		config:   cfg,
		logger:   logger,
	}
}

// Invocation - разобранный вызов slash-команды или кнопки
type Invocation struct {
	Command     string
	Sub         string
	UserID      string
	Username    string
	MemberRoles []string
	Options     map[string]string
}

func (inv *Invocation) Option(name string) string {
	return strings.TrimSpace(inv.Options[name])
}

// Reply - ответ на вызов. Ответы на команды видны только автору.
// Error - действие не выполнено, сообщение ревью трогать нельзя.
type Reply struct {
	Content string
	Embed   *discordgo.MessageEmbed
	Error   bool
}

// Register подписывает обработчик на события сессии
func (h *Handler) Register(session *discordgo.Session) {
	session.AddHandler(h.onInteraction)
}

// RegisterCommands публикует команды в гильдиях (или глобально, если список пуст)
func (h *Handler) RegisterCommands(session *discordgo.Session, appID string, guildIDs []string) error {
	if len(guildIDs) == 0 {
		guildIDs = []string{""}
	}

	for _, guildID := range guildIDs {
		if _, err := session.ApplicationCommandBulkOverwrite(appID, guildID, Commands()); err != nil {
			return err
		}
		h.logger.WithField("guild_id", guildID).Info("Slash commands registered")
	}
	return nil
}

func (h *Handler) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.handleSlashCommand(ctx, s, i)
	case discordgo.InteractionMessageComponent:
		h.handleComponent(ctx, s, i)
	}
}

func (h *Handler) handleSlashCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv := invocationFrom(i)
	data := i.ApplicationCommandData()
	inv.Command = data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		sub := data.Options[0]
		inv.Sub = sub.Name
		for _, opt := range sub.Options {
			inv.Options[opt.Name] = optionString(opt)
		}
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": inv.UserID,
		"command": inv.Command,
		"sub":     inv.Sub,
	}).Info("Slash command received")

	// ответ откладываем: запросы к Discord и БД могут не уложиться в 3 секунды
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to defer interaction")
		return
	}

	reply := h.Dispatch(ctx, inv)
	h.editResponse(s, i, reply, nil)
}

func (h *Handler) handleComponent(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv := invocationFrom(i)
	customID := i.MessageComponentData().CustomID

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to defer component interaction")
		return
	}

	edit, followup := componentResponse(h.HandleButton(ctx, inv, customID))
	if followup != nil {
		if _, err := s.FollowupMessageCreate(i.Interaction, true, followup); err != nil {
			h.logger.WithError(err).Error("Failed to send followup message")
		}
		return
	}

	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		h.logger.WithError(err).Error("Failed to edit interaction response")
	}
}

// componentResponse: ошибку видит только нажавший, сообщение ревью и кнопки остаются.
// После решения сообщение переписывается и кнопки убираются.
func componentResponse(reply Reply) (*discordgo.WebhookEdit, *discordgo.WebhookParams) {
	if reply.Error {
		return nil, &discordgo.WebhookParams{
			Content: reply.Content,
			Flags:   discordgo.MessageFlagsEphemeral,
		}
	}
	return responseEdit(reply, &[]discordgo.MessageComponent{}), nil
}

func (h *Handler) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, reply Reply, components *[]discordgo.MessageComponent) {
	if _, err := s.InteractionResponseEdit(i.Interaction, responseEdit(reply, components)); err != nil {
		h.logger.WithError(err).Error("Failed to edit interaction response")
	}
}

func responseEdit(reply Reply, components *[]discordgo.MessageComponent) *discordgo.WebhookEdit {
	edit := &discordgo.WebhookEdit{
		Content:    &reply.Content,
		Components: components,
	}
	if reply.Embed != nil {
		edit.Embeds = &[]*discordgo.MessageEmbed{reply.Embed}
	}
	return edit
}

func invocationFrom(i *discordgo.InteractionCreate) *Invocation {
	inv := &Invocation{Options: make(map[string]string)}

	if i.Member != nil && i.Member.User != nil {
		inv.UserID = i.Member.User.ID
		inv.Username = i.Member.User.Username
		inv.MemberRoles = i.Member.Roles
	} else if i.User != nil {
		inv.UserID = i.User.ID
		inv.Username = i.User.Username
	}
	return inv
}

func optionString(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	switch opt.Type {
	case discordgo.ApplicationCommandOptionUser:
		return opt.UserValue(nil).ID
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(opt.IntValue(), 10)
	default:
		return opt.StringValue()
	}
}
