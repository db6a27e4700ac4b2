package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/stageflow/internal/engine/errors"
	"github.com/drblury/stageflow/internal/engine/logging"
)

type chainEntry struct {
	stage  Stage
	name   string
	traits ResponseTraits
}

// Chain runs an ordered list of stages over one event at a time. Response
// traits are resolved once at build time; per-event processing only reads
// them.
//
// The pass over the stages follows three rules:
//
//   - An error from any stage ends the pass with a MessagingError wrapping
//     the event that was in flight. An error that already is a
//     MessagingError passes through untouched.
//   - A consumed event (nil result, nil error) ends the pass in a linear
//     host. In a branching host with stages remaining, the chain falls back
//     to the snapshot taken before the consuming stage and keeps going.
//   - A reply-relay stage never resurrects a consumed event: while the pass
//     runs on a snapshot, a reply relay's result is discarded and the
//     consumed-event rule applies in its place.
type Chain struct {
	name     string
	hosting  Hosting
	entries  []chainEntry
	logger   logging.ServiceLogger
	notifier *Dispatcher
	tracer   trace.Tracer
}

// ChainConfig carries the collaborators a chain needs. Everything except the
// stages is optional.
type ChainConfig struct {
	// Name labels logs, spans and notifications. Defaults to "chain".
	Name string
	// Hosting selects the consumed-event rule, see Hosting.
	Hosting Hosting
	// Logger receives protocol-level diagnostics.
	Logger logging.ServiceLogger
	// Notifier receives before/after notifications per stage invocation.
	Notifier *Dispatcher
	// Tracer, when set, wraps every stage invocation in a span.
	Tracer trace.Tracer
}

// NewChain builds a chain over the given stages. Nil stages are rejected.
func NewChain(cfg ChainConfig, stages ...Stage) (*Chain, error) {
	entries := make([]chainEntry, 0, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("%w: position %d", errspkg.ErrStageRequired, i)
		}
		entries = append(entries, chainEntry{
			stage:  s,
			name:   stageName(s),
			traits: resolveTraits(s),
		})
	}

	name := cfg.Name
	if name == "" {
		name = "chain"
	}

	return &Chain{
		name:     name,
		hosting:  cfg.Hosting,
		entries:  entries,
		logger:   logging.OrNop(cfg.Logger),
		notifier: cfg.Notifier,
		tracer:   cfg.Tracer,
	}, nil
}

// Name returns the chain's label.
func (c *Chain) Name() string {
	return c.name
}

// Hosting returns the consumed-event rule the chain runs under.
func (c *Chain) Hosting() Hosting {
	return c.hosting
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.entries)
}

// StageNames returns the resolved stage names in order.
func (c *Chain) StageNames() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Process runs event through the stages. It returns the final event, nil
// when the event was consumed, or a MessagingError when a stage failed. An
// empty chain returns the event unchanged; a nil event returns nil.
func (c *Chain) Process(ctx context.Context, event *Event) (*Event, error) {
	if event == nil {
		return nil, nil
	}

	current := event
	var snapshot *Event
	consumed := false

	for i := range c.entries {
		entry := &c.entries[i]
		hasNext := i+1 < len(c.entries)
		snapshot = nil
		discardReply := consumed && entry.traits.ReplyType

		c.notifyStage(entry, PhaseBefore, current, false)

		if c.hosting == HostingBranching && hasNext && (entry.traits.MayReturnNil || discardReply) {
			snapshot = current.Clone()
		}

		result, err := c.invoke(ctx, entry, current)
		if err != nil {
			return nil, NewMessagingError(current, err).withStage(entry.name)
		}

		if discardReply {
			// The event was already consumed earlier in this pass; a reply
			// relay runs for its side effect but must not bring it back.
			result = nil
		}

		c.notifyStage(entry, PhaseAfter, result, result == nil)

		if result != nil {
			current = result
			consumed = false
			continue
		}

		if c.hosting == HostingBranching && hasNext {
			if snapshot == nil {
				// The stage was declared response-bearing yet returned no
				// event. Recover with a copy of the last live event so the
				// remaining stages still run.
				c.logger.Error("stage consumed event without declaring MayReturnNil", nil, logging.LogFields{
					"chain": c.name,
					"stage": entry.name,
				})
				snapshot = current.Clone()
			}
			current = snapshot
			consumed = true
			continue
		}

		return nil, nil
	}

	return current, nil
}

func (c *Chain) invoke(ctx context.Context, entry *chainEntry, event *Event) (*Event, error) {
	if c.tracer == nil {
		return entry.stage.Process(ctx, event)
	}

	ctx, span := c.tracer.Start(ctx, c.name+"/"+entry.name)
	defer span.End()
	span.SetAttributes(
		attribute.String("stageflow.chain", c.name),
		attribute.String("stageflow.stage", entry.name),
		attribute.String("stageflow.event_id", event.ID),
	)

	result, err := entry.stage.Process(ctx, event)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (c *Chain) notifyStage(entry *chainEntry, phase StagePhase, event *Event, consumed bool) {
	if c.notifier == nil {
		return
	}

	n := StageNotification{
		Flow:          c.name,
		Stage:         entry.name,
		Phase:         phase,
		EventConsumed: phase == PhaseAfter && consumed,
	}
	if event != nil {
		n.EventID = event.ID
	}
	c.notifier.NotifyStage(n)
}
