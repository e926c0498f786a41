package channels

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

// LogSender records intents without delivering them. It backs channels with
// no provider configured.
type LogSender struct {
	channel enforcement.Channel
	logger  *zap.Logger
}

func NewLogSender(channel enforcement.Channel, logger *zap.Logger) *LogSender {
	return &LogSender{channel: channel, logger: logger}
}

func (l *LogSender) Send(ctx context.Context, intent enforcement.DispatchIntent) (*enforcement.DispatchResult, error) {
	id := "log-" + uuid.NewString()
	l.logger.Info("dispatch logged without provider",
		zap.String("channel", string(l.channel)),
		zap.String("provider_id", id))
	return &enforcement.DispatchResult{Status: enforcement.StatusSent, ProviderID: id}, nil
}
