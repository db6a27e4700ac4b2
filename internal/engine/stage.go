package engine

import (
	"context"
	"fmt"
)

// Stage is a single processing step inside a flow. A stage may transform the
// event in place, replace it, or consume it: returning a nil event with a
// nil error means the stage routed the event elsewhere (to a broker, a
// filter sink) and the chain has nothing further to process.
//
// Returning a non-nil error aborts the pass; the chain wraps it in a
// MessagingError carrying the event that was in flight.
type Stage interface {
	Process(ctx context.Context, event *Event) (*Event, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, event *Event) (*Event, error)

func (f StageFunc) Process(ctx context.Context, event *Event) (*Event, error) {
	return f(ctx, event)
}

// ResponseTraits declare how a chain must interpret a stage's result. Traits
// are resolved once when the chain is built, never probed per event.
type ResponseTraits struct {
	// MayReturnNil marks stages that legitimately consume events, such as
	// one-way dispatch to a broker or a filter dropping non-matching
	// payloads. In a branching host the chain snapshots the event before
	// such a stage so later stages still run when the event is consumed.
	MayReturnNil bool

	// ReplyType marks stages that relay a reply for an earlier request.
	// When the event was already consumed by a preceding stage, a reply
	// relay must not bring it back to life: its result is discarded and the
	// pass stays terminated.
	ReplyType bool
}

// TraitsProvider is implemented by stages that declare their own response
// traits. Stages without it get the zero traits: response-bearing, never
// consuming.
type TraitsProvider interface {
	ResponseTraits() ResponseTraits
}

// Namer is implemented by stages that carry their own name for logs, spans
// and notifications. Anonymous stages are named after their Go type.
type Namer interface {
	Name() string
}

// DeclareTraits wraps stage so the chain sees the given traits, overriding
// whatever the stage itself declares. Useful when composing third-party
// stages that do not implement TraitsProvider.
func DeclareTraits(stage Stage, traits ResponseTraits) Stage {
	return &declaredStage{stage: stage, traits: traits}
}

type declaredStage struct {
	stage  Stage
	traits ResponseTraits
}

func (d *declaredStage) Process(ctx context.Context, event *Event) (*Event, error) {
	return d.stage.Process(ctx, event)
}

func (d *declaredStage) ResponseTraits() ResponseTraits {
	return d.traits
}

func (d *declaredStage) Name() string {
	return stageName(d.stage)
}

func resolveTraits(s Stage) ResponseTraits {
	if tp, ok := s.(TraitsProvider); ok {
		return tp.ResponseTraits()
	}
	return ResponseTraits{}
}

func stageName(s Stage) string {
	if n, ok := s.(Namer); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", s)
}

// Hosting selects how a chain treats interior stages that consume events.
type Hosting int

const (
	// HostingLinear ends the pass at the first consumed event, whoever
	// consumed it. Used for chains whose surrounding construct cannot
	// continue without a live event, such as recovery routes.
	HostingLinear Hosting = iota

	// HostingBranching keeps the pass alive when an interior consuming
	// stage swallows the event: the chain restores the snapshot taken
	// before that stage and continues with the next one. A consumed event
	// at the last stage still ends the pass.
	HostingBranching
)

func (h Hosting) String() string {
	switch h {
	case HostingLinear:
		return "linear"
	case HostingBranching:
		return "branching"
	default:
		return fmt.Sprintf("hosting(%d)", int(h))
	}
}
