package notifications

import (
	"context"

	"logistics/internal/logger"
)

// Sender delivers a rendered notification over its channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.logger.InfowCtx(ctx, "Notification sent",
		"notification_id", n.ID,
		"notification_type", n.Type,
		"recipient", n.Recipient,
		"channel", n.Channel,
		"subject", n.Subject,
	)
	return nil
}
