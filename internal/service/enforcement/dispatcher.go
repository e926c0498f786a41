package enforcement

import (
	"context"
	"fmt"
	"sort"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
)

// Dispatcher routes intents to per-channel senders, each wrapped by the
// interceptor at construction. The raw senders are not reachable from it.
type Dispatcher struct {
	senders map[Channel]Sender
}

// NewDispatcher wraps every sender with interceptor.
func NewDispatcher(interceptor *Interceptor, senders map[Channel]Sender) (*Dispatcher, error) {
	if interceptor == nil {
		return nil, errors.NewValidationError("INVALID_INTERCEPTOR", "interceptor cannot be nil")
	}
	wrapped := make(map[Channel]Sender, len(senders))
	for channel, sender := range senders {
		if sender == nil {
			continue
		}
		wrapped[channel] = interceptor.Wrap(sender)
	}
	return &Dispatcher{senders: wrapped}, nil
}

// Send dispatches intent over its channel.
func (d *Dispatcher) Send(ctx context.Context, intent DispatchIntent) (*DispatchResult, error) {
	sender, ok := d.senders[intent.Channel]
	if !ok {
		return nil, errors.NewValidationError("UNSUPPORTED_CHANNEL", fmt.Sprintf("no sender configured for channel %q", intent.Channel)).
			WithDetails(map[string]interface{}{"field": "channel"})
	}
	return sender.Send(ctx, intent)
}

// Sender returns the guarded sender for channel.
func (d *Dispatcher) Sender(channel Channel) (Sender, bool) {
	sender, ok := d.senders[channel]
	return sender, ok
}

// Channels lists the configured channels in name order.
func (d *Dispatcher) Channels() []Channel {
	out := make([]Channel, 0, len(d.senders))
	for c := range d.senders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
