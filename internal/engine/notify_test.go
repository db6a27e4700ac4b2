package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	errspkg "github.com/drblury/stageflow/internal/engine/errors"
	"github.com/drblury/stageflow/internal/engine/jsoncodec"
	"github.com/drblury/stageflow/internal/engine/metadata"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	d := NewDispatcher(newTestLogger(), 16, sink)

	d.NotifyStage(StageNotification{Flow: "f", Stage: "one", Phase: PhaseBefore})
	d.NotifyStage(StageNotification{Flow: "f", Stage: "two", Phase: PhaseAfter})
	d.NotifyFailure(FailureNotification{Flow: "f", Reason: "boom"})
	d.Close()

	stages := sink.Stages()
	if len(stages) != 2 || stages[0].Stage != "one" || stages[1].Stage != "two" {
		t.Fatalf("unexpected stage notifications: %+v", stages)
	}
	failures := sink.Failures()
	if len(failures) != 1 || failures[0].Reason != "boom" {
		t.Fatalf("unexpected failure notifications: %+v", failures)
	}
	if d.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", d.Dropped())
	}
}

func TestDispatcherFillsIdentity(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(newTestLogger(), 16, sink)

	d.NotifyStage(StageNotification{Flow: "f", Stage: "s", Phase: PhaseBefore})
	d.NotifyFailure(FailureNotification{ID: "fixed", Flow: "f", Reason: "r"})
	d.Close()

	stages := sink.Stages()
	if len(stages) != 1 || stages[0].ID == "" || stages[0].At.IsZero() {
		t.Fatalf("expected id and timestamp filled in, got %+v", stages)
	}
	failures := sink.Failures()
	if len(failures) != 1 || failures[0].ID != "fixed" {
		t.Fatalf("expected the caller id kept, got %+v", failures)
	}
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}

	mu   sync.Mutex
	seen []string
}

func (s *blockingSink) OnStage(_ context.Context, n StageNotification) {
	s.started <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.seen = append(s.seen, n.Stage)
	s.mu.Unlock()
}

func (s *blockingSink) OnFailure(_ context.Context, _ FailureNotification) {}

func (s *blockingSink) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make([]string, len(s.seen))
	copy(clone, s.seen)
	return clone
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(newTestLogger(), 1, sink)

	d.NotifyStage(StageNotification{Stage: "one"})
	<-sink.started // delivery goroutine is now parked inside the sink

	d.NotifyStage(StageNotification{Stage: "two"})   // fills the queue
	d.NotifyStage(StageNotification{Stage: "three"}) // dropped

	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected one dropped notification, got %d", got)
	}

	sink.release <- struct{}{}
	<-sink.started
	sink.release <- struct{}{}
	d.Close()

	seen := sink.Seen()
	if len(seen) != 2 || seen[0] != "one" || seen[1] != "two" {
		t.Fatalf("unexpected deliveries: %v", seen)
	}
}

type panickingSink struct{}

func (panickingSink) OnStage(_ context.Context, _ StageNotification) { panic("sink exploded") }

func (panickingSink) OnFailure(_ context.Context, _ FailureNotification) { panic("sink exploded") }

func TestDispatcherIsolatesPanickingSink(t *testing.T) {
	recorder := &recordingSink{}
	d := NewDispatcher(newTestLogger(), 16, panickingSink{}, recorder)

	d.NotifyStage(StageNotification{Stage: "s"})
	d.NotifyFailure(FailureNotification{Reason: "r"})
	d.Close()

	if len(recorder.Stages()) != 1 || len(recorder.Failures()) != 1 {
		t.Fatal("expected deliveries to continue past a panicking sink")
	}
}

func TestDispatcherCloseIsIdempotentAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	d := NewDispatcher(newTestLogger(), 16, sink)

	for i := 0; i < 5; i++ {
		d.NotifyStage(StageNotification{Stage: "s"})
	}
	d.Close()
	d.Close()

	if got := len(sink.Stages()); got != 5 {
		t.Fatalf("expected queued notifications drained, got %d", got)
	}

	// Emission after close is discarded without panicking.
	d.NotifyStage(StageNotification{Stage: "late"})
	if got := len(sink.Stages()); got != 5 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher

	d.NotifyStage(StageNotification{Stage: "s"})
	d.NotifyFailure(FailureNotification{Reason: "r"})
	d.Close()

	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on a nil dispatcher")
	}
}

func TestNewPublisherSinkValidation(t *testing.T) {
	if _, err := NewPublisherSink(nil, "a", "b", newTestLogger()); !errors.Is(err, errspkg.ErrPublisherRequired) {
		t.Fatalf("expected ErrPublisherRequired, got %v", err)
	}
	if _, err := NewPublisherSink(&testPublisher{}, "", "b", newTestLogger()); !errors.Is(err, errspkg.ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
	if _, err := NewPublisherSink(&testPublisher{}, "a", "", newTestLogger()); !errors.Is(err, errspkg.ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
}

func TestPublisherSinkPublishesNotifications(t *testing.T) {
	pub := &testPublisher{}
	sink, err := NewPublisherSink(pub, "stages", "failures", newTestLogger())
	if err != nil {
		t.Fatalf("sink init failed: %v", err)
	}

	sink.OnStage(context.Background(), StageNotification{ID: "n1", Flow: "orders", Stage: "validate", Phase: PhaseBefore})
	sink.OnFailure(context.Background(), FailureNotification{ID: "n2", Flow: "orders", Reason: "boom"})

	published := pub.Published()
	if len(published) != 2 {
		t.Fatalf("expected two publishes, got %d", len(published))
	}

	if published[0].topic != "stages" || published[1].topic != "failures" {
		t.Fatalf("unexpected topics: %+v", published)
	}
	if got := published[0].msg.Metadata.Get(metadata.KeyFlow); got != "orders" {
		t.Fatalf("expected the flow header, got %q", got)
	}

	var decoded StageNotification
	if err := jsoncodec.Unmarshal(published[0].msg.Payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded.Stage != "validate" || decoded.Phase != PhaseBefore {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestPublisherSinkToleratesPublishError(t *testing.T) {
	pub := &testPublisher{err: errors.New("broker down")}
	sink, err := NewPublisherSink(pub, "stages", "failures", newTestLogger())
	if err != nil {
		t.Fatalf("sink init failed: %v", err)
	}

	sink.OnStage(context.Background(), StageNotification{Flow: "f", Stage: "s"})
	sink.OnFailure(context.Background(), FailureNotification{Flow: "f", Reason: "r"})
}
