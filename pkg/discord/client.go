package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

type Client struct {
	Session  *discordgo.Session
	guildIDs []string
}

// NewClient создает сессию бота. Соединение открывается отдельно через Open.
// guildIDs ограничивает список гильдий; пусто - все, где есть бот.
func NewClient(token string, guildIDs []string) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages

	return &Client{
		Session:  session,
		guildIDs: guildIDs,
	}, nil
}

func (c *Client) Open() error {
	return c.Session.Open()
}

func (c *Client) Close() error {
	return c.Session.Close()
}

// BotUserID - id бота после Open
func (c *Client) BotUserID() string {
	if c.Session.State == nil || c.Session.State.User == nil {
		return ""
	}
	return c.Session.State.User.ID
}

func (c *Client) Guilds(ctx context.Context) ([]string, error) {
	if len(c.guildIDs) > 0 {
		return c.guildIDs, nil
	}

	if c.Session.State == nil {
		return nil, fmt.Errorf("discord state is not initialized")
	}

	c.Session.State.RLock()
	defer c.Session.State.RUnlock()

	ids := make([]string, 0, len(c.Session.State.Guilds))
	for _, g := range c.Session.State.Guilds {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (c *Client) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	member, err := c.Session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, err
	}

	for _, id := range member.Roles {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.Session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.Session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// SendDirectMessage открывает личный канал и отправляет текст
func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) error {
	channel, err := c.Session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}

	_, err = c.Session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx))
	return err
}

func (c *Client) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	_, err := c.Session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	return err
}

// SendComplex - сообщение с кнопками и т.п.
func (c *Client) SendComplex(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	return c.Session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
}

// Mention форматирует упоминание пользователя
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// Timestamp - метка времени, которую Discord показывает в часовом поясе читателя
func Timestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}
