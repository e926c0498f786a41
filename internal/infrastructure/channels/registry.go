package channels

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/dnc-guard/internal/infrastructure/config"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

// Build returns a sender for every channel. Channels without a configured
// provider fall back to LogSender.
func Build(ctx context.Context, cfg config.ChannelsConfig, logger *zap.Logger) (map[enforcement.Channel]enforcement.Sender, error) {
	senders := map[enforcement.Channel]enforcement.Sender{}

	if cfg.SESFrom != "" {
		ses, err := NewSESSender(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		senders[enforcement.ChannelEmail] = ses
	}

	gateways := map[enforcement.Channel]string{
		enforcement.ChannelSMS:      cfg.SMSGatewayURL,
		enforcement.ChannelWhatsApp: cfg.WhatsAppURL,
		enforcement.ChannelVoice:    cfg.VoiceGatewayURL,
	}
	for channel, url := range gateways {
		if url != "" {
			senders[channel] = NewGatewaySender(channel, url, cfg.GatewayToken, cfg.GatewayTimeout, logger)
		}
	}

	for _, channel := range []enforcement.Channel{
		enforcement.ChannelEmail, enforcement.ChannelSMS, enforcement.ChannelWhatsApp, enforcement.ChannelVoice,
	} {
		if _, ok := senders[channel]; !ok {
			logger.Warn("no provider configured, dispatches will only be logged", zap.String("channel", string(channel)))
			senders[channel] = NewLogSender(channel, logger)
		}
	}
	return senders, nil
}
