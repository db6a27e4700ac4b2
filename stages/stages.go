// Package stages provides reusable stage implementations for stageflow
// flows: payload transforms, predicate filters, side-effect taps,
// fire-and-forget broker dispatch and reply relays. A registry maps stage
// kind names to builders with their response traits so configuration layers
// can assemble chains from validated names.
package stages

import (
	"context"

	"github.com/drblury/stageflow"
)

// Transform returns a stage that replaces the event payload with the result
// of fn. The event itself travels on unchanged.
func Transform(name string, fn func(ctx context.Context, payload any) (any, error)) stageflow.Stage {
	return &transformStage{name: name, fn: fn}
}

type transformStage struct {
	name string
	fn   func(ctx context.Context, payload any) (any, error)
}

func (s *transformStage) Name() string {
	return s.name
}

func (s *transformStage) Process(ctx context.Context, event *stageflow.Event) (*stageflow.Event, error) {
	payload, err := s.fn(ctx, event.Payload)
	if err != nil {
		return nil, err
	}
	event.Payload = payload
	return event, nil
}

// Filter returns a consuming stage that drops events whose payload does not
// match p. Dropping is a legitimate consumed outcome, so the stage declares
// MayReturnNil.
//
// Inside a flow, which hosts its chain branching, a drop by an interior
// filter does not end the pass: the stages after it continue on the snapshot
// taken before the filter. Place the filter last, or host the chain linear,
// when a drop must end processing.
func Filter(name string, p stageflow.Predicate) stageflow.Stage {
	return &filterStage{name: name, predicate: p}
}

type filterStage struct {
	name      string
	predicate stageflow.Predicate
}

func (s *filterStage) Name() string {
	return s.name
}

func (s *filterStage) ResponseTraits() stageflow.ResponseTraits {
	return stageflow.ResponseTraits{MayReturnNil: true}
}

func (s *filterStage) Process(ctx context.Context, event *stageflow.Event) (*stageflow.Event, error) {
	if s.predicate != nil && !s.predicate(event.Payload) {
		return nil, nil
	}
	return event, nil
}

// Tap returns a stage that runs fn for its side effect and passes the event
// through unchanged. An error from fn fails the stage.
func Tap(name string, fn func(ctx context.Context, event *stageflow.Event) error) stageflow.Stage {
	return &tapStage{name: name, fn: fn}
}

type tapStage struct {
	name string
	fn   func(ctx context.Context, event *stageflow.Event) error
}

func (s *tapStage) Name() string {
	return s.name
}

func (s *tapStage) Process(ctx context.Context, event *stageflow.Event) (*stageflow.Event, error) {
	if err := s.fn(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// encodePayload turns an event payload into a broker message body. Byte and
// string payloads pass through, everything else is JSON-encoded.
func encodePayload(p any) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return stageflow.Marshal(p)
	}
}
