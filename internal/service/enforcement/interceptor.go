package enforcement

import (
	"context"
	"strings"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/metrics"
	dncsvc "github.com/davidleathers/dnc-guard/internal/service/dnc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultBypassKeywords mark service communications that are never blocked.
var DefaultBypassKeywords = []string{"renewal", "policy", "premium", "due", "urgent", "reminder", "expired", "expiry"}

// Interceptor outcomes
const (
	OutcomeAllowed    = "allowed"
	OutcomeBlocked    = "blocked"
	OutcomeBypass     = "bypass"
	OutcomeFailOpen   = "fail_open"
	OutcomeFailClosed = "fail_closed"
)

// Config controls how the interceptor treats the unknown.
type Config struct {
	// FailClosed suppresses sends whose recipient cannot be screened or
	// whose screening failed. The default lets them through.
	FailClosed bool

	// BypassKeywords replaces DefaultBypassKeywords when non-empty.
	BypassKeywords []string
}

// Verdict is the interceptor's answer for one dispatch.
type Verdict struct {
	Allowed bool
	Outcome string
	Reason  string
}

// Interceptor screens dispatches before they reach a channel sender.
type Interceptor struct {
	screener dncsvc.Screener
	logger   *zap.Logger
	config   Config
	keywords []string
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewInterceptor creates an interceptor. m may be nil.
func NewInterceptor(screener dncsvc.Screener, logger *zap.Logger, config Config, m *metrics.Metrics) (*Interceptor, error) {
	if screener == nil {
		return nil, errors.NewValidationError("INVALID_SCREENER", "screener cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}

	source := config.BypassKeywords
	if len(source) == 0 {
		source = DefaultBypassKeywords
	}
	keywords := make([]string, 0, len(source))
	for _, k := range source {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &Interceptor{
		screener: screener,
		logger:   logger,
		config:   config,
		keywords: keywords,
		metrics:  m,
		tracer:   otel.Tracer("dnc.enforcement"),
	}, nil
}

// Check decides whether intent may be sent. It never grants overrides and
// never returns an error: faults resolve to fail-open or fail-closed.
func (i *Interceptor) Check(ctx context.Context, intent DispatchIntent) Verdict {
	ctx, span := i.tracer.Start(ctx, "dnc.Intercept", trace.WithAttributes(
		attribute.String("dnc.channel", string(intent.Channel)),
	))
	defer span.End()

	verdict := i.check(ctx, intent)
	i.metrics.IncrementDispatch(string(intent.Channel), verdict.Outcome)
	span.SetAttributes(attribute.String("dnc.outcome", verdict.Outcome))
	return verdict
}

func (i *Interceptor) check(ctx context.Context, intent DispatchIntent) Verdict {
	if i.isServiceCommunication(intent.Snippet()) {
		return Verdict{Allowed: true, Outcome: OutcomeBypass}
	}

	id := intent.Identifier()
	if id.IsEmpty() {
		return i.unscreenable(intent, "no recipient to screen", nil)
	}

	screening, err := i.screener.Screen(ctx, id)
	if err != nil {
		return i.unscreenable(intent, "dnc screening failed", err)
	}
	if screening.Blocked() {
		i.logger.Warn("Dispatch blocked by DNC registry",
			zap.String("channel", string(intent.Channel)),
			zap.String("recipient", id.String()),
			zap.String("entry_id", screening.Entry.ID.String()),
		)
		return Verdict{Outcome: OutcomeBlocked, Reason: screening.Decision.Message}
	}
	return Verdict{Allowed: true, Outcome: OutcomeAllowed, Reason: screening.Decision.Message}
}

func (i *Interceptor) unscreenable(intent DispatchIntent, reason string, err error) Verdict {
	fields := []zap.Field{
		zap.String("channel", string(intent.Channel)),
		zap.String("recipient", intent.Recipient),
		zap.Bool("fail_closed", i.config.FailClosed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		i.logger.Error("DNC screening unavailable for dispatch", fields...)
	} else {
		i.logger.Warn("Dispatch recipient could not be screened", fields...)
	}

	if i.config.FailClosed {
		return Verdict{Outcome: OutcomeFailClosed, Reason: reason}
	}
	return Verdict{Allowed: true, Outcome: OutcomeFailOpen, Reason: reason}
}

func (i *Interceptor) isServiceCommunication(snippet string) bool {
	if snippet == "" {
		return false
	}
	lower := strings.ToLower(snippet)
	for _, k := range i.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Wrap returns a Sender that screens every dispatch before calling next.
// A blocked dispatch never reaches next and yields a blocked_by_dnc result.
func (i *Interceptor) Wrap(next Sender) Sender {
	return &guardedSender{next: next, interceptor: i}
}

type guardedSender struct {
	next        Sender
	interceptor *Interceptor
}

var _ Sender = (*guardedSender)(nil)

func (g *guardedSender) Send(ctx context.Context, intent DispatchIntent) (*DispatchResult, error) {
	verdict := g.interceptor.Check(ctx, intent)
	if !verdict.Allowed {
		return Blocked(verdict.Reason), nil
	}
	return g.next.Send(ctx, intent)
}
