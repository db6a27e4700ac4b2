package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/stageflow/internal/engine/logging"
	"github.com/drblury/stageflow/internal/engine/predicate"
)

// RoutingHook runs around recovery routing. It may replace the event it is
// given. Returning an error, or panicking, sends handling down the total
// failure path.
type RoutingHook func(ctx context.Context, cause error, event *Event) (*Event, error)

// FailureStrategyConfig describes one failure strategy. Everything except
// the defaults noted below is optional.
type FailureStrategyConfig struct {
	// Name labels logs and notifications. Defaults to "strategy".
	Name string
	// Logger receives failure reports and diagnostics.
	Logger logging.ServiceLogger
	// Notifier receives the failure notification emitted at the start of
	// handling.
	Notifier *Dispatcher
	// RecoveryStages, when present, run over the failing event as a linear
	// chain. A failure inside recovery is logged and the pre-routing event
	// kept; it never escalates the original failure.
	RecoveryStages []Stage
	// Matcher restricts which events the strategy accepts. Nil accepts any
	// event.
	Matcher func(*Event) bool
	// ErrorMatcher restricts acceptance by failure cause. Nil accepts any
	// cause.
	ErrorMatcher func(error) bool
	// MarkHandled absorbs accepted failures: the MessagingError is flagged
	// handled and the failure record is cleared from the returned event, so
	// upstream callers treat the outcome as success.
	MarkHandled bool
	// ReplyPublisher, when set, relays the recovered event to the topic in
	// its reply-to header. Best effort.
	ReplyPublisher message.Publisher
	// BeforeRouting runs after the failure is recorded, before recovery.
	BeforeRouting RoutingHook
	// AfterRouting runs after recovery, before the handled flag is applied.
	AfterRouting RoutingHook
	// Tracer is handed to the recovery chain.
	Tracer trace.Tracer
}

// FailureStrategy turns a failing event into a terminal outcome. Its
// HandleFailure is total: whatever happens inside, including failures of
// the strategy's own steps, the caller gets an event back and never an
// error or a panic.
type FailureStrategy struct {
	name           string
	logger         logging.ServiceLogger
	notifier       *Dispatcher
	recovery       *Chain
	matcher        func(*Event) bool
	errorMatcher   func(error) bool
	markHandled    bool
	replyPublisher message.Publisher
	beforeRouting  RoutingHook
	afterRouting   RoutingHook
}

// NewFailureStrategy builds a strategy from cfg. The recovery stages are
// validated the same way a chain validates them.
func NewFailureStrategy(cfg FailureStrategyConfig) (*FailureStrategy, error) {
	name := cfg.Name
	if name == "" {
		name = "strategy"
	}

	s := &FailureStrategy{
		name:           name,
		logger:         logging.OrNop(cfg.Logger),
		notifier:       cfg.Notifier,
		matcher:        cfg.Matcher,
		errorMatcher:   cfg.ErrorMatcher,
		markHandled:    cfg.MarkHandled,
		replyPublisher: cfg.ReplyPublisher,
		beforeRouting:  cfg.BeforeRouting,
		afterRouting:   cfg.AfterRouting,
	}

	if len(cfg.RecoveryStages) > 0 {
		recovery, err := NewChain(ChainConfig{
			Name:     name + "/recovery",
			Hosting:  HostingLinear,
			Logger:   cfg.Logger,
			Notifier: cfg.Notifier,
			Tracer:   cfg.Tracer,
		}, cfg.RecoveryStages...)
		if err != nil {
			return nil, fmt.Errorf("recovery chain: %w", err)
		}
		s.recovery = recovery
	}

	return s, nil
}

// Name returns the strategy's label.
func (s *FailureStrategy) Name() string {
	return s.name
}

// AcceptsAll reports whether the strategy has no acceptance conditions.
func (s *FailureStrategy) AcceptsAll() bool {
	return s.matcher == nil && s.errorMatcher == nil
}

// Accept reports whether this strategy wants the failing event. Both
// configured matchers have to agree; a strategy without matchers accepts
// everything.
func (s *FailureStrategy) Accept(event *Event, cause error) bool {
	if s.matcher != nil && !s.matcher(event) {
		return false
	}
	if s.errorMatcher != nil && !s.errorMatcher(cause) {
		return false
	}
	return true
}

// HandleFailure routes a failing event through the strategy and returns the
// terminal event. The returned event may be nil when a recovery stage
// consumed it; that is a legitimate outcome, not an error.
//
// The sequence: notify, log, count, attach the failure record, run the
// before hook, route through recovery (counting events that enter it), run
// the after hook, apply the handled policy, then relay the reply and release
// streaming payloads. If any of that fails, the total failure path takes over: log,
// count the fatal, roll back the context transaction, attach the wrapped
// failure to the original event and return it.
func (s *FailureStrategy) HandleFailure(ctx context.Context, cause error, event *Event) *Event {
	routed, err := s.handle(ctx, cause, event)
	if err != nil {
		return s.handleFatal(ctx, cause, event, err)
	}
	return routed
}

func (s *FailureStrategy) handle(ctx context.Context, cause error, event *Event) (result *Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("failure strategy panicked: %v", r)
		}
	}()

	s.notifyFailure(cause, event)
	s.logFailure(cause, event)

	if stats := event.statistics(); stats.Enabled() {
		stats.IncExecutionError(cause)
	}

	if event != nil {
		event.SetFailure(cause)
	}

	current := event
	if s.beforeRouting != nil {
		current, err = s.beforeRouting(ctx, cause, current)
		if err != nil {
			return nil, fmt.Errorf("before-routing hook: %w", err)
		}
	}

	// Only events that actually enter the recovery chain count as routed; a
	// before hook may have suppressed the event, which skips routing.
	if s.recovery != nil && current != nil {
		if stats := event.statistics(); stats.Enabled() {
			stats.IncRecoveryRouted()
		}
	}

	current = s.route(ctx, cause, current)

	if s.afterRouting != nil {
		current, err = s.afterRouting(ctx, cause, current)
		if err != nil {
			return nil, fmt.Errorf("after-routing hook: %w", err)
		}
	}

	if s.markHandled {
		if me, ok := cause.(*MessagingError); ok {
			me.MarkHandled()
		}
	}

	if current != nil {
		propagateReply(s.replyPublisher, current, s.logger)
		closePayloadStream(current)
		if s.markHandled {
			current.ClearFailure()
		}
	}

	return current, nil
}

// route runs the failing event through the recovery chain. The failure
// record is re-attached first because a before hook may have swapped the
// event for one without it.
func (s *FailureStrategy) route(ctx context.Context, cause error, event *Event) *Event {
	if s.recovery == nil || event == nil {
		return event
	}

	event.SetFailure(cause)

	recovered, err := s.recovery.Process(ctx, event)
	if err != nil {
		s.logger.Error("recovery route failed", err, logging.LogFields{
			"strategy": s.name,
			"event_id": event.ID,
		})
		return event
	}
	return recovered
}

// handleFatal is the terminal layer. Every failure of handling itself lands
// here, and nothing escapes it.
func (s *FailureStrategy) handleFatal(ctx context.Context, cause error, event *Event, stepErr error) (result *Event) {
	result = event
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("total failure path panicked", fmt.Errorf("panic: %v", r), nil)
		}
	}()

	wrapped := NewMessagingError(event, stepErr)

	fields := logging.LogFields{"strategy": s.name}
	if cause != nil {
		fields["original_failure"] = cause.Error()
	}
	s.logger.Error("failure during failure strategy execution", wrapped, fields)

	if stats := event.statistics(); stats.Enabled() {
		stats.IncFatalError()
	}

	rollbackCurrentTransaction(ctx, s.logger)

	if event != nil {
		event.SetFailure(wrapped)
	}
	return event
}

func (s *FailureStrategy) notifyFailure(cause error, event *Event) {
	n := FailureNotification{Reason: cause.Error()}
	if event != nil {
		n.EventID = event.ID
		n.Flow = event.FlowName()
	}
	if me, ok := cause.(*MessagingError); ok {
		n.Stage = me.FailingStage()
	}
	s.notifier.NotifyFailure(n)
}

func (s *FailureStrategy) logFailure(cause error, event *Event) {
	fields := logging.LogFields{"strategy": s.name}
	if event != nil {
		fields["event_id"] = event.ID
		if flow := event.FlowName(); flow != "" {
			fields["flow"] = flow
		}
	}
	s.logger.Error("event processing failed", cause, fields)
}

// closePayloadStream releases a streaming payload once handling ends.
func closePayloadStream(event *Event) {
	if closer, ok := event.Payload.(io.Closer); ok {
		_ = closer.Close()
	}
}

// MatchPayload adapts a payload predicate to an event matcher.
func MatchPayload(p predicate.Predicate) func(*Event) bool {
	return func(e *Event) bool {
		if e == nil {
			return false
		}
		return p(e.Payload)
	}
}

// MatchMetadata matches events carrying the given header value.
func MatchMetadata(key, value string) func(*Event) bool {
	return func(e *Event) bool {
		return e != nil && e.Metadata.Get(key) == value
	}
}

// MatchErrorIs matches failure causes wrapping target.
func MatchErrorIs(target error) func(error) bool {
	return func(err error) bool {
		return errors.Is(err, target)
	}
}
