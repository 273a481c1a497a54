package service

import (
	"context"
	"time"
)

// RoleDirectory - выдача и снятие ролей в гильдиях Discord
type RoleDirectory interface {
	Guilds(ctx context.Context) ([]string, error)
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

// Notifier - личные сообщения и лог-канал
type Notifier interface {
	DirectMessage(ctx context.Context, userID, content string) error
	PostToLogChannel(ctx context.Context, guildID, channelID string, entry LogEntry) error
}

// LogEntry - структурированная запись для лог-канала
type LogEntry struct {
	Title      string
	Event      string
	LoaID      int64
	UserID     string
	Actor      string
	DurationMs int64
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
}
