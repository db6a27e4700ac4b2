package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/stageflow/internal/engine/errors"
	"github.com/drblury/stageflow/internal/engine/logging"
)

// Flow is the hosting construct of the runtime: a named branching chain
// paired with failure strategies, counters and reply plumbing. Flows host
// their chain branching by definition; callers wanting linear semantics use
// a Chain directly.
type Flow struct {
	name           string
	chain          *Chain
	handlers       *HandlerChain
	stats          *FlowStatistics
	logger         logging.ServiceLogger
	notifier       *Dispatcher
	replyPublisher message.Publisher
}

// FlowConfig describes a flow. Name is required, everything else optional.
type FlowConfig struct {
	// Name identifies the flow in logs, metrics and the inspector.
	Name string
	// Stages form the flow's chain, run in order.
	Stages []Stage
	// Strategies form the flow's handler chain. Validation applies: an
	// accept-all strategy may only be last.
	Strategies []*FailureStrategy
	// Logger receives flow diagnostics.
	Logger logging.ServiceLogger
	// Notifier receives stage and failure notifications.
	Notifier *Dispatcher
	// Tracer, when set, wraps stage invocations in spans.
	Tracer trace.Tracer
	// Statistics, when set, counts this flow's outcomes.
	Statistics *FlowStatistics
	// ReplyPublisher, when set, relays final events to their reply-to topic.
	ReplyPublisher message.Publisher
}

// NewFlow builds a flow from cfg, validating its chain and strategies.
func NewFlow(cfg FlowConfig) (*Flow, error) {
	if cfg.Name == "" {
		return nil, errspkg.ErrFlowNameRequired
	}

	chain, err := NewChain(ChainConfig{
		Name:     cfg.Name,
		Hosting:  HostingBranching,
		Logger:   cfg.Logger,
		Notifier: cfg.Notifier,
		Tracer:   cfg.Tracer,
	}, cfg.Stages...)
	if err != nil {
		return nil, fmt.Errorf("flow %q: %w", cfg.Name, err)
	}

	var handlers *HandlerChain
	if len(cfg.Strategies) > 0 {
		handlers, err = NewHandlerChain(cfg.Strategies...)
		if err != nil {
			return nil, fmt.Errorf("flow %q: %w", cfg.Name, err)
		}
	}

	return &Flow{
		name:           cfg.Name,
		chain:          chain,
		handlers:       handlers,
		stats:          cfg.Statistics,
		logger:         logging.OrNop(cfg.Logger),
		notifier:       cfg.Notifier,
		replyPublisher: cfg.ReplyPublisher,
	}, nil
}

// Name returns the flow's name.
func (f *Flow) Name() string {
	return f.name
}

// Statistics returns the flow's counters, or nil when counting is not
// configured.
func (f *Flow) Statistics() *FlowStatistics {
	return f.stats
}

// StageNames returns the chain's stage names in order.
func (f *Flow) StageNames() []string {
	return f.chain.StageNames()
}

// StrategyNames returns the handler chain's strategy names in order.
func (f *Flow) StrategyNames() []string {
	return f.handlers.Names()
}

// Process runs event through the flow and settles its completion handle.
//
// Outcomes:
//   - (event, nil): the chain finished with a final event.
//   - (nil, nil): a stage consumed the event; there is no final result.
//   - (event, nil) after a failure: a strategy absorbed the failure; the
//     returned event is the recovered one.
//   - (event, error): the failure was routed but not absorbed, or no
//     strategy accepted it. The error is the MessagingError; when no
//     strategy accepted, it is wrapped so errors.Is matches
//     ErrNoStrategyAccepted.
func (f *Flow) Process(ctx context.Context, event *Event) (*Event, error) {
	if event == nil {
		return nil, nil
	}

	event.bindFlow(f)
	completion := event.Completion()
	start := time.Now()

	result, err := f.chain.Process(ctx, event)
	if err == nil {
		if result != nil {
			if f.stats.Enabled() {
				f.stats.IncProcessed(time.Since(start))
			}
			propagateReply(f.replyPublisher, result, f.logger)
		} else if f.stats.Enabled() {
			f.stats.IncConsumed()
		}
		completion.Resolve(result, nil)
		return result, nil
	}

	me := NewMessagingError(event, err)
	failing := me.Event()
	if failing == nil {
		failing = event
	}

	if me.Handled() {
		// Some inner construct already absorbed this failure; report
		// success and do not run our own strategies.
		completion.Resolve(failing, nil)
		return failing, nil
	}

	strategy, ok := f.handlers.Select(failing, me)
	if !ok {
		escalated := fmt.Errorf("%w: flow %q: %w", errspkg.ErrNoStrategyAccepted, f.name, me)
		f.logger.Error("no failure strategy accepted event", me, logging.LogFields{
			"flow":     f.name,
			"event_id": failing.ID,
		})
		completion.Resolve(failing, escalated)
		return failing, escalated
	}

	handled := strategy.HandleFailure(ctx, me, failing)
	if me.Handled() {
		completion.Resolve(handled, nil)
		return handled, nil
	}
	completion.Resolve(handled, me)
	return handled, me
}
