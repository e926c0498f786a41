// Package enforcement guards every outbound channel sender with the DNC
// screening used by the decision API.
package enforcement

import (
	"context"
	"strings"

	"github.com/davidleathers/dnc-guard/internal/domain/values"
)

// Channel is an outbound contact medium.
type Channel string

const (
	ChannelVoice    Channel = "voice"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Dispatch statuses
const (
	StatusSent    = "sent"
	StatusBlocked = "blocked_by_dnc"
)

// DispatchIntent is what a caller wants sent. Callers build it explicitly;
// the interceptor never inspects anything else.
type DispatchIntent struct {
	Channel   Channel           `json:"channel" validate:"required,oneof=voice sms email whatsapp"`
	Recipient string            `json:"recipient" validate:"required"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Snippet is the text matched against bypass keywords: the subject, or the
// body when there is no subject.
func (i DispatchIntent) Snippet() string {
	if strings.TrimSpace(i.Subject) != "" {
		return i.Subject
	}
	return i.Body
}

// Identifier derives the contact to screen from the recipient, plus any
// alternate phone or email the caller put in Metadata.
func (i DispatchIntent) Identifier() values.ContactIdentifier {
	id := values.ParseContact(i.Recipient)
	if id.Phone == "" && i.Metadata["phone"] != "" {
		id.Phone = values.NormalizePhone(i.Metadata["phone"])
	}
	if id.Email == "" && i.Metadata["email"] != "" {
		id.Email = values.NormalizeEmail(i.Metadata["email"])
	}
	return id
}

// DispatchResult reports what happened to a dispatch.
type DispatchResult struct {
	Status     string `json:"status"`
	Blocked    bool   `json:"blocked"`
	ProviderID string `json:"provider_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Blocked builds the synthetic result returned in place of a suppressed send.
func Blocked(reason string) *DispatchResult {
	return &DispatchResult{Status: StatusBlocked, Blocked: true, Reason: reason}
}

// Sender delivers one dispatch over a channel.
type Sender interface {
	Send(ctx context.Context, intent DispatchIntent) (*DispatchResult, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, intent DispatchIntent) (*DispatchResult, error)

func (f SenderFunc) Send(ctx context.Context, intent DispatchIntent) (*DispatchResult, error) {
	return f(ctx, intent)
}
