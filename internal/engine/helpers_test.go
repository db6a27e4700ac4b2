package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/stageflow/internal/engine/logging"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type publishedMessage struct {
	topic string
	msg   *message.Message
}

type testPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.published = append(p.published, publishedMessage{topic: topic, msg: msg})
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Published() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]publishedMessage, len(p.published))
	copy(clone, p.published)
	return clone
}

type recordingSink struct {
	mu       sync.Mutex
	stages   []StageNotification
	failures []FailureNotification
}

func (s *recordingSink) OnStage(_ context.Context, n StageNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, n)
}

func (s *recordingSink) OnFailure(_ context.Context, n FailureNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, n)
}

func (s *recordingSink) Stages() []StageNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make([]StageNotification, len(s.stages))
	copy(clone, s.stages)
	return clone
}

func (s *recordingSink) Failures() []FailureNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make([]FailureNotification, len(s.failures))
	copy(clone, s.failures)
	return clone
}

// namedStage is a configurable test stage implementing Namer and
// TraitsProvider.
type namedStage struct {
	name    string
	traits  ResponseTraits
	process func(ctx context.Context, event *Event) (*Event, error)
}

func (s *namedStage) Process(ctx context.Context, event *Event) (*Event, error) {
	return s.process(ctx, event)
}

func (s *namedStage) Name() string { return s.name }

func (s *namedStage) ResponseTraits() ResponseTraits { return s.traits }

// trailStage appends its name to the "trail" header so tests can assert
// execution order from the final event alone.
func trailStage(name string) *namedStage {
	return &namedStage{
		name: name,
		process: func(_ context.Context, event *Event) (*Event, error) {
			event.Metadata = event.Metadata.With("trail", event.Metadata.Get("trail")+name)
			return event, nil
		},
	}
}

// consumingStage declares MayReturnNil and swallows every event after
// stamping the trail.
func consumingStage(name string) *namedStage {
	return &namedStage{
		name:   name,
		traits: ResponseTraits{MayReturnNil: true},
		process: func(_ context.Context, event *Event) (*Event, error) {
			event.Metadata = event.Metadata.With("trail", event.Metadata.Get("trail")+name)
			return nil, nil
		},
	}
}

func failingStage(name string, err error) *namedStage {
	return &namedStage{
		name: name,
		process: func(_ context.Context, _ *Event) (*Event, error) {
			return nil, err
		},
	}
}

func newTestChain(t *testing.T, hosting Hosting, stages ...Stage) *Chain {
	t.Helper()
	chain, err := NewChain(ChainConfig{
		Name:    "test",
		Hosting: hosting,
		Logger:  newTestLogger(),
	}, stages...)
	if err != nil {
		t.Fatalf("chain init failed: %v", err)
	}
	return chain
}

func trail(event *Event) string {
	if event == nil {
		return ""
	}
	return event.Metadata.Get("trail")
}
