package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender - часть BotAPI, нужная для отправки (подменяется в тестах)
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client отправляет служебные уведомления в один чат
type Client struct {
	Bot    Sender
	ChatID int64
}

func NewClient(token string, chatID int64) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	bot.Debug = false

	return &Client{
		Bot:    bot,
		ChatID: chatID,
	}, nil
}

// SendHTML отправляет сообщение с HTML-разметкой
func (c *Client) SendHTML(text string) error {
	msg := tgbotapi.NewMessage(c.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := c.Bot.Send(msg)
	return err
}
