package discord

import "github.com/bwmarrin/discordgo"

// Лимиты Discord для embed
const (
	EmbedLimitTitle       = 256
	EmbedLimitDescription = 2048
	EmbedLimitFieldName   = 256
	EmbedLimitFieldValue  = 1024
	EmbedLimitField       = 25
)

// Embed - билдер поверх discordgo.MessageEmbed
type Embed struct {
	*discordgo.MessageEmbed
}

func NewEmbed() *Embed {
	return &Embed{&discordgo.MessageEmbed{}}
}

func (e *Embed) SetTitle(title string) *Embed {
	e.Title = truncate(title, EmbedLimitTitle)
	return e
}

func (e *Embed) SetDescription(description string) *Embed {
	e.Description = truncate(description, EmbedLimitDescription)
	return e
}

// AddField добавляет поле; пустое значение Discord не принимает
func (e *Embed) AddField(name, value string) *Embed {
	return e.addField(name, value, false)
}

func (e *Embed) AddInlineField(name, value string) *Embed {
	return e.addField(name, value, true)
}

func (e *Embed) addField(name, value string, inline bool) *Embed {
	if len(e.Fields) >= EmbedLimitField {
		return e
	}
	if value == "" {
		value = "-"
	}

	e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
		Name:   truncate(name, EmbedLimitFieldName),
		Value:  truncate(value, EmbedLimitFieldValue),
		Inline: inline,
	})
	return e
}

func (e *Embed) SetFooter(text string) *Embed {
	e.Footer = &discordgo.MessageEmbedFooter{Text: text}
	return e
}

func (e *Embed) SetTimestamp(ts string) *Embed {
	e.MessageEmbed.Timestamp = ts
	return e
}

func (e *Embed) SetColor(clr int) *Embed {
	e.Color = clr
	return e
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
