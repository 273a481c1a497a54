package notifier

import (
	"context"

	"rceutils-bot/internal/service"

	"github.com/sirupsen/logrus"
)

// Mirror получает копию каждой записи лог-канала
type Mirror interface {
	Mirror(ctx context.Context, entry service.LogEntry) error
}

// Fanout - основной Notifier плюс зеркала. Ошибки зеркал только логируются.
type Fanout struct {
	primary service.Notifier
	mirrors []Mirror
	logger  *logrus.Logger
}

func NewFanout(primary service.Notifier, logger *logrus.Logger, mirrors ...Mirror) *Fanout {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fanout{primary: primary, mirrors: mirrors, logger: logger}
}

func (f *Fanout) DirectMessage(ctx context.Context, userID, content string) error {
	return f.primary.DirectMessage(ctx, userID, content)
}

func (f *Fanout) PostToLogChannel(ctx context.Context, guildID, channelID string, entry service.LogEntry) error {
	err := f.primary.PostToLogChannel(ctx, guildID, channelID, entry)

	for _, m := range f.mirrors {
		if mErr := m.Mirror(ctx, entry); mErr != nil {
			f.logger.WithError(mErr).WithField("loa_id", entry.LoaID).Warn("Log mirror failed")
		}
	}

	return err
}
