package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/config"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := newSESSender(fake, "noreply@example.com", zaptest.NewLogger(t))

	result, err := sender.Send(context.Background(), enforcement.DispatchIntent{
		Channel:   enforcement.ChannelEmail,
		Recipient: "Jane@Example.com",
		Subject:   "Hello",
		Body:      "Body text",
	})
	require.NoError(t, err)
	assert.Equal(t, enforcement.StatusSent, result.Status)
	assert.Equal(t, "ses-123", result.ProviderID)

	require.NotNil(t, fake.input)
	assert.Equal(t, []string{"jane@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "noreply@example.com", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, "Hello", aws.ToString(fake.input.Content.Simple.Subject.Data))
}

func TestSESSender_Errors(t *testing.T) {
	t.Run("non-email recipient", func(t *testing.T) {
		sender := newSESSender(&fakeSES{}, "noreply@example.com", zaptest.NewLogger(t))
		_, err := sender.Send(context.Background(), enforcement.DispatchIntent{Recipient: "+15551234567"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})

	t.Run("provider failure", func(t *testing.T) {
		sender := newSESSender(&fakeSES{err: errors.New("throttled")}, "noreply@example.com", zaptest.NewLogger(t))
		_, err := sender.Send(context.Background(), enforcement.DispatchIntent{Recipient: "jane@example.com"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
	})

	t.Run("missing from address", func(t *testing.T) {
		_, err := NewSESSender(context.Background(), config.ChannelsConfig{}, zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}

func newTestGateway(t *testing.T, url string) *GatewaySender {
	g := NewGatewaySender(enforcement.ChannelSMS, url, "secret", time.Second, zaptest.NewLogger(t))
	g.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return g
}

func TestGatewaySender_Send(t *testing.T) {
	var got gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(gatewayResponse{ID: "msg-1"})
	}))
	defer srv.Close()

	result, err := newTestGateway(t, srv.URL).Send(context.Background(), enforcement.DispatchIntent{
		Channel:   enforcement.ChannelSMS,
		Recipient: "(555) 123-4567",
		Body:      "Your appointment is tomorrow",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", result.ProviderID)
	assert.Equal(t, "+15551234567", got.To)
	assert.Equal(t, enforcement.ChannelSMS, got.Channel)
}

func TestGatewaySender_Retries(t *testing.T) {
	t.Run("server errors are retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_ = json.NewEncoder(w).Encode(gatewayResponse{ID: "msg-3"})
		}))
		defer srv.Close()

		result, err := newTestGateway(t, srv.URL).Send(context.Background(), enforcement.DispatchIntent{Recipient: "+15551234567"})
		require.NoError(t, err)
		assert.Equal(t, "msg-3", result.ProviderID)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "bad number", http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := newTestGateway(t, srv.URL).Send(context.Background(), enforcement.DispatchIntent{Recipient: "+15551234567"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestBuild_FallsBackToLogSender(t *testing.T) {
	senders, err := Build(context.Background(), config.ChannelsConfig{SMSGatewayURL: "http://sms.local"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, senders, 4)

	assert.IsType(t, &GatewaySender{}, senders[enforcement.ChannelSMS])
	assert.IsType(t, &LogSender{}, senders[enforcement.ChannelEmail])

	result, err := senders[enforcement.ChannelVoice].Send(context.Background(), enforcement.DispatchIntent{Recipient: "+15551234567"})
	require.NoError(t, err)
	assert.Equal(t, enforcement.StatusSent, result.Status)
	assert.Contains(t, result.ProviderID, "log-")
}
