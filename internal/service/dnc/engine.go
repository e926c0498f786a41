package dnc

import (
	"context"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/davidleathers/dnc-guard/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultOverrideReason = "Manual override"

var _ Screener = (*Engine)(nil)

// Engine decides whether a contact may proceed.
type Engine struct {
	logger    *zap.Logger
	policy    PolicyProvider
	lookup    ContactLookup
	overrides OverrideRecorder
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewEngine creates the decision engine. m may be nil.
func NewEngine(logger *zap.Logger, policy PolicyProvider, lookup ContactLookup, overrides OverrideRecorder, m *metrics.Metrics) (*Engine, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if policy == nil {
		return nil, errors.NewValidationError("INVALID_POLICY", "policy provider cannot be nil")
	}
	if lookup == nil {
		return nil, errors.NewValidationError("INVALID_LOOKUP", "contact lookup cannot be nil")
	}
	if overrides == nil {
		return nil, errors.NewValidationError("INVALID_OVERRIDE_RECORDER", "override recorder cannot be nil")
	}
	return &Engine{
		logger:    logger,
		policy:    policy,
		lookup:    lookup,
		overrides: overrides,
		metrics:   m,
		tracer:    otel.Tracer("dnc.engine"),
	}, nil
}

// Screen applies the policy toggles and the registry lookup. It never
// grants overrides: a blocked screening carries the blocking entry.
func (e *Engine) Screen(ctx context.Context, id values.ContactIdentifier) (*Screening, error) {
	cfg, err := e.policy.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.CheckingEnabled {
		return &Screening{Decision: dnc.Allow(dnc.MessageCheckingDisabled), Policy: cfg}, nil
	}

	entry, err := e.lookup.LookupActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &Screening{Decision: dnc.Allow(dnc.MessageNotListed), Policy: cfg}, nil
	}
	if !cfg.BlockingEnabled {
		return &Screening{Decision: dnc.Allow(dnc.MessageBlockingDisabled), Entry: entry, Policy: cfg}, nil
	}
	return &Screening{Decision: dnc.Block(), Entry: entry, Policy: cfg}, nil
}

// Evaluate returns an allowing decision or a PermissionDenied error. When
// an override is requested for a blocked contact and every precondition
// holds, a Manual override is recorded before allowing.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) (dnc.Decision, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "dnc.Evaluate", trace.WithAttributes(
		attribute.Bool("dnc.override_requested", req.OverrideRequested),
		attribute.String("dnc.source", req.Source),
	))
	defer span.End()
	defer func() { e.metrics.ObserveEvaluateLatency(time.Since(start)) }()

	decision, err := e.evaluate(ctx, req)
	if err != nil {
		if errors.IsPermissionDenied(err) {
			e.metrics.IncrementDecision("blocked")
			span.SetAttributes(attribute.String("dnc.outcome", "blocked"))
		} else {
			e.metrics.IncrementDecision("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return dnc.Decision{}, err
	}

	outcome := "allowed"
	if decision.OverrideUsed {
		outcome = "override"
	}
	e.metrics.IncrementDecision(outcome)
	span.SetAttributes(
		attribute.String("dnc.outcome", outcome),
		attribute.String("dnc.message", decision.Message),
	)
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, req EvaluateRequest) (dnc.Decision, error) {
	if req.Identifier.IsEmpty() {
		return dnc.Decision{}, errors.NewValidationError("MISSING_IDENTIFIER", "phone number or email address is required").
			WithDetails(map[string]interface{}{"field": "identifier"})
	}

	screening, err := e.Screen(ctx, req.Identifier)
	if err != nil {
		return dnc.Decision{}, err
	}
	if !screening.Blocked() {
		return screening.Decision, nil
	}

	entry := screening.Entry
	if !req.OverrideRequested {
		e.logger.Info("Contact blocked by DNC policy",
			zap.String("entry_id", entry.ID.String()),
			zap.String("source", req.Source),
		)
		return dnc.Decision{}, errors.NewPermissionDeniedError("DNC_BLOCKED", dnc.MessageBlocked).
			WithDetails(map[string]interface{}{"entry_id": entry.ID.String()})
	}
	if !screening.Policy.OverridesAllowed {
		return dnc.Decision{}, errors.NewPermissionDeniedError("OVERRIDE_DISABLED", "override disabled globally")
	}
	if !entry.OverrideEligible {
		return dnc.Decision{}, errors.NewPermissionDeniedError("OVERRIDE_NOT_ALLOWED", "override not allowed for this entry")
	}
	authorizedBy := req.User.AuthorizedBy()
	if authorizedBy == "" {
		return dnc.Decision{}, errors.NewPermissionDeniedError("OVERRIDE_USER_REQUIRED", "user required for override")
	}

	reason := req.Reason
	if reason == "" {
		reason = defaultOverrideReason
	}
	if _, err := e.overrides.Record(ctx, entry.ID, dnc.OverrideManual, reason, nil, authorizedBy); err != nil {
		return dnc.Decision{}, err
	}

	return dnc.Decision{Allowed: true, OverrideUsed: true, Message: dnc.MessageOverrideApproved}, nil
}
