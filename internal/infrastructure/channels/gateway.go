package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

const gatewayMaxRetries = 2

// GatewaySender posts intents as JSON to an HTTP messaging gateway. Server
// errors and transport failures are retried with exponential backoff.
type GatewaySender struct {
	channel enforcement.Channel
	url     string
	token   string
	client  *http.Client
	logger  *zap.Logger

	newBackOff func() backoff.BackOff
}

type gatewayRequest struct {
	Channel  enforcement.Channel `json:"channel"`
	To       string              `json:"to"`
	Subject  string              `json:"subject,omitempty"`
	Body     string              `json:"body,omitempty"`
	Metadata map[string]string   `json:"metadata,omitempty"`
}

type gatewayResponse struct {
	ID string `json:"id"`
}

// NewGatewaySender targets url for channel. The token, when set, is sent as
// a bearer credential.
func NewGatewaySender(channel enforcement.Channel, url, token string, timeout time.Duration, logger *zap.Logger) *GatewaySender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewaySender{
		channel: channel,
		url:     url,
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (g *GatewaySender) Send(ctx context.Context, intent enforcement.DispatchIntent) (*enforcement.DispatchResult, error) {
	to := intent.Recipient
	if id := intent.Identifier(); id.Phone != "" {
		to = id.Phone
	}
	payload, err := json.Marshal(gatewayRequest{
		Channel:  g.channel,
		To:       to,
		Subject:  intent.Subject,
		Body:     intent.Body,
		Metadata: intent.Metadata,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode gateway request").WithCause(err)
	}

	var resp gatewayResponse
	op := func() error {
		return g.post(ctx, payload, &resp)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), gatewayMaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		g.logger.Error("gateway send failed", zap.String("channel", string(g.channel)), zap.Error(err))
		return nil, errors.NewInternalError(fmt.Sprintf("failed to send %s message", g.channel)).WithCause(err)
	}

	return &enforcement.DispatchResult{Status: enforcement.StatusSent, ProviderID: resp.ID}, nil
}

func (g *GatewaySender) post(ctx context.Context, payload []byte, out *gatewayResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	switch {
	case res.StatusCode >= 500:
		return fmt.Errorf("gateway returned %d", res.StatusCode)
	case res.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("gateway returned %d: %s", res.StatusCode, bytes.TrimSpace(body)))
	}

	if len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid gateway response: %w", err))
		}
	}
	return nil
}
