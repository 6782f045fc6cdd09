package abuse

import (
	"context"
	"fmt"
	"time"

	"moltguard/internal/accessguard"
	"moltguard/internal/anomaly"
	"moltguard/internal/config"
	"moltguard/internal/domain"
	"moltguard/internal/ratelimit"

	"github.com/charmbracelet/log"
)

const (
	outcomeAllowed     = "allowed"
	outcomeBlocked     = "blocked"
	outcomeSuspicious  = "suspicious"
	outcomeRateLimited = "rate_limited"
	outcomeError       = "error"

	reasonGuardUnavailable = "access check unavailable"

	// Metric label for action types outside the policy table.
	unknownActionLabel = "unknown"
)

type AccessGuard interface {
	IsBlocked(ctx context.Context, actor string) (accessguard.Status, error)
	Block(ctx context.Context, actor, reason string, duration time.Duration) (domain.Block, error)
}

type Detector interface {
	Evaluate(actor, actionType string) anomaly.Verdict
}

type Limiter interface {
	Known(actionType string) bool
	Check(ctx context.Context, actor, actionType string) (ratelimit.Decision, error)
	Record(ctx context.Context, actor, actionType string) error
}

// SuspicionLog is satisfied by *database.SuspiciousEventStore.
type SuspicionLog interface {
	AppendSuspiciousEvent(ctx context.Context, event *domain.SuspiciousEvent) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, owner string, event domain.Event)
}

type Options struct {
	Guard      AccessGuard
	Detector   Detector
	Limiter    Limiter
	Suspicion  SuspicionLog
	Dispatcher Dispatcher
	// Penalty is how long a suspicious actor stays blocked.
	Penalty func() time.Duration
	Now     func() time.Time
}

// Gate runs the guard checks in order for every abuse-controlled action:
// block check, anomaly check, rate-limit check. Nothing is recorded until
// the action has been performed and Complete is called.
type Gate struct {
	guard      AccessGuard
	detector   Detector
	limiter    Limiter
	suspicion  SuspicionLog
	dispatcher Dispatcher
	penalty    func() time.Duration
	now        func() time.Time
}

func NewGate(opts Options) *Gate {
	if opts.Penalty == nil {
		opts.Penalty = func() time.Duration { return config.GetConfig().Anomaly.BlockPenalty() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		guard:      opts.Guard,
		detector:   opts.Detector,
		limiter:    opts.Limiter,
		suspicion:  opts.Suspicion,
		dispatcher: opts.Dispatcher,
		penalty:    opts.Penalty,
		now:        opts.Now,
	}
}

// Admit returns nil when actor may perform actionType now. Otherwise it
// returns *AccessDeniedError or *RateLimitedError. A blocked actor is denied
// before the action type is looked at; unknown action types then yield
// ratelimit.ErrUnknownAction.
func (g *Gate) Admit(ctx context.Context, actor, actionType string) error {
	known := g.limiter.Known(actionType)
	label := actionType
	if !known {
		label = unknownActionLabel
	}

	status, err := g.guard.IsBlocked(ctx, actor)
	if err != nil {
		gateDecisionCount.WithLabelValues(label, outcomeError).Inc()
		log.Error("Access check failed, denying", "actor", actor, "action", actionType, "error", err)
		return &AccessDeniedError{Reason: reasonGuardUnavailable, cause: err}
	}
	if status.Blocked {
		gateDecisionCount.WithLabelValues(label, outcomeBlocked).Inc()
		return &AccessDeniedError{Reason: status.Reason, BlockedUntil: status.BlockedUntil}
	}
	if !known {
		return fmt.Errorf("%w: %q", ratelimit.ErrUnknownAction, actionType)
	}

	if verdict := g.detector.Evaluate(actor, actionType); verdict.Suspicious {
		gateDecisionCount.WithLabelValues(actionType, outcomeSuspicious).Inc()
		return g.suspend(ctx, actor, actionType, verdict)
	}

	decision, err := g.limiter.Check(ctx, actor, actionType)
	if err != nil {
		gateDecisionCount.WithLabelValues(actionType, outcomeError).Inc()
		log.Error("Rate limit check failed, denying", "actor", actor, "action", actionType, "error", err)
		return &RateLimitedError{
			ActionType: actionType,
			Limit:      decision.Limit,
			Remaining:  0,
			ResetAt:    decision.ResetAt,
			cause:      err,
		}
	}
	if !decision.Allowed {
		gateDecisionCount.WithLabelValues(actionType, outcomeRateLimited).Inc()
		return &RateLimitedError{
			ActionType: actionType,
			Limit:      decision.Limit,
			Remaining:  decision.Remaining,
			ResetAt:    decision.ResetAt,
		}
	}

	gateDecisionCount.WithLabelValues(actionType, outcomeAllowed).Inc()
	return nil
}

// suspend records the verdict and blocks the actor. Failures to persist are
// logged; the request is denied either way.
func (g *Gate) suspend(ctx context.Context, actor, actionType string, verdict anomaly.Verdict) error {
	suspiciousEventCount.WithLabelValues(verdict.Reason).Inc()

	event := domain.SuspiciousEvent{
		Actor:      actor,
		ActionType: actionType,
		Reason:     verdict.Reason,
		Metadata:   verdict.Details,
		CreatedAt:  g.now().UTC(),
	}
	if g.suspicion != nil {
		if err := g.suspicion.AppendSuspiciousEvent(ctx, &event); err != nil {
			log.Error("Failed to record suspicious event", "actor", actor, "action", actionType, "error", err)
		}
	}

	penalty := g.penalty()
	block, err := g.guard.Block(ctx, actor, verdict.Reason, penalty)
	if err != nil {
		log.Error("Failed to block suspicious actor", "actor", actor, "reason", verdict.Reason, "error", err)
		until := g.now().UTC().Add(penalty)
		return &AccessDeniedError{Reason: verdict.Reason, BlockedUntil: &until}
	}

	log.Warn("Suspicious activity, actor blocked", "actor", actor, "action", actionType, "reason", verdict.Reason, "until", block.BlockedUntil)
	return &AccessDeniedError{Reason: block.Reason, BlockedUntil: block.BlockedUntil}
}

// Complete records a performed action against the actor's rate limit.
func (g *Gate) Complete(ctx context.Context, actor, actionType string) error {
	return g.limiter.Record(ctx, actor, actionType)
}

// Raise hands a domain event to the dispatcher without waiting for delivery.
func (g *Gate) Raise(ctx context.Context, owner string, event domain.Event) {
	if g.dispatcher == nil || event == nil {
		return
	}
	g.dispatcher.Dispatch(ctx, owner, event)
}

// Run admits the action, performs it and records it. The action's error is
// returned unchanged and the action is not recorded when it fails.
func (g *Gate) Run(ctx context.Context, actor, actionType string, action func(context.Context) error) error {
	if err := g.Admit(ctx, actor, actionType); err != nil {
		return err
	}
	if err := action(ctx); err != nil {
		return err
	}
	if err := g.Complete(ctx, actor, actionType); err != nil {
		log.Error("Failed to record action", "actor", actor, "action", actionType, "error", err)
	}
	return nil
}

// Now exposes the gate clock for Retry-After calculations.
func (g *Gate) Now() time.Time {
	return g.now()
}
