// Package channels holds the concrete outbound senders the dispatcher wraps:
// AWS SES for email, HTTP gateways for sms, whatsapp and voice, and a log
// sender for unconfigured channels.
package channels

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/config"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers email intents through AWS SES v2.
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

// NewSESSender loads AWS config for the region. Static credentials are used
// when both keys are set, otherwise the default credential chain applies.
func NewSESSender(ctx context.Context, cfg config.ChannelsConfig, logger *zap.Logger) (*SESSender, error) {
	if cfg.SESFrom == "" {
		return nil, errors.NewValidationError("MISSING_SES_FROM", "SES sender address is required")
	}
	region := cfg.SESRegion
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.SESAccessKey != "" && cfg.SESSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg.SESFrom, logger), nil
}

func newSESSender(client sesAPI, from string, logger *zap.Logger) *SESSender {
	return &SESSender{client: client, from: from, logger: logger}
}

// Send delivers one email. The recipient must carry an email address.
func (s *SESSender) Send(ctx context.Context, intent enforcement.DispatchIntent) (*enforcement.DispatchResult, error) {
	to := intent.Identifier().Email
	if to == "" {
		return nil, errors.NewValidationError("INVALID_RECIPIENT", "email channel requires an email recipient").
			WithDetails(map[string]interface{}{"field": "recipient"})
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(intent.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(intent.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("SES send failed", zap.Error(err))
		return nil, errors.NewInternalError("failed to send email").WithCause(err)
	}

	messageID := aws.ToString(out.MessageId)
	s.logger.Info("email sent", zap.String("message_id", messageID))
	return &enforcement.DispatchResult{Status: enforcement.StatusSent, ProviderID: messageID}, nil
}
