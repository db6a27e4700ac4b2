package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/drblury/stageflow/internal/engine/metadata"
)

func TestFailureStrategyHandleSequence(t *testing.T) {
	pub := &testPublisher{}
	var order []string

	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:   "sequence",
		Logger: newTestLogger(),
		RecoveryStages: []Stage{&namedStage{name: "route", process: func(_ context.Context, event *Event) (*Event, error) {
			order = append(order, "route")
			if !event.Failed() {
				t.Error("expected the failure record attached during routing")
			}
			return event, nil
		}}},
		MarkHandled:    true,
		ReplyPublisher: pub,
		BeforeRouting: func(_ context.Context, _ error, event *Event) (*Event, error) {
			order = append(order, "before")
			return event, nil
		},
		AfterRouting: func(_ context.Context, _ error, event *Event) (*Event, error) {
			order = append(order, "after")
			return event, nil
		},
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	evt := NewEvent("payload")
	evt.Metadata = evt.Metadata.With(metadata.KeyReplyTo, "replies")
	me := NewMessagingError(evt, errors.New("boom")).withStage("s1")

	result := strategy.HandleFailure(context.Background(), me, evt)

	if result == nil {
		t.Fatal("expected a terminal event")
	}
	if got := fmt.Sprint(order); got != "[before route after]" {
		t.Fatalf("unexpected handling order: %s", got)
	}
	if !me.Handled() {
		t.Fatal("expected the failure to be marked handled")
	}
	if result.Failed() {
		t.Fatal("expected the failure record cleared on an absorbed failure")
	}

	published := pub.Published()
	if len(published) != 1 || published[0].topic != "replies" {
		t.Fatalf("expected one reply publish, got %+v", published)
	}
}

func TestFailureStrategyAccept(t *testing.T) {
	sentinel := errors.New("sentinel")

	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:         "selective",
		Matcher:      MatchMetadata("kind", "order"),
		ErrorMatcher: MatchErrorIs(sentinel),
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	matching := NewEvent(nil)
	matching.Metadata = matching.Metadata.With("kind", "order")
	other := NewEvent(nil)

	if !strategy.Accept(matching, fmt.Errorf("wrap: %w", sentinel)) {
		t.Fatal("expected acceptance when both matchers agree")
	}
	if strategy.Accept(other, sentinel) {
		t.Fatal("expected rejection on event mismatch")
	}
	if strategy.Accept(matching, errors.New("unrelated")) {
		t.Fatal("expected rejection on cause mismatch")
	}
	if strategy.AcceptsAll() {
		t.Fatal("a strategy with matchers must not report accept-all")
	}

	catchAll, err := NewFailureStrategy(FailureStrategyConfig{Name: "catch-all"})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}
	if !catchAll.AcceptsAll() || !catchAll.Accept(other, errors.New("anything")) {
		t.Fatal("expected a matcher-less strategy to accept everything")
	}
}

func TestFailureStrategyWithoutRecoveryKeepsEvent(t *testing.T) {
	strategy, err := NewFailureStrategy(FailureStrategyConfig{Name: "bare", Logger: newTestLogger()})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	evt := NewEvent(nil)
	me := NewMessagingError(evt, errors.New("boom"))

	result := strategy.HandleFailure(context.Background(), me, evt)

	if result != evt {
		t.Fatal("expected the failing event back")
	}
	if !result.Failed() {
		t.Fatal("expected the failure record to stay attached")
	}
	if me.Handled() {
		t.Fatal("a strategy without MarkHandled must not absorb the failure")
	}
}

func TestFailureStrategyRecoveryConsumesEvent(t *testing.T) {
	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:           "consuming",
		Logger:         newTestLogger(),
		RecoveryStages: []Stage{consumingStage("sink")},
		MarkHandled:    true,
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	evt := NewEvent(nil)
	me := NewMessagingError(evt, errors.New("boom"))

	result := strategy.HandleFailure(context.Background(), me, evt)

	if result != nil {
		t.Fatalf("expected a consumed recovery outcome, got %+v", result)
	}
	if !me.Handled() {
		t.Fatal("expected the failure to be marked handled")
	}
}

func TestFailureStrategyRecoveryFailureKeepsPreRoutingEvent(t *testing.T) {
	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:           "broken-route",
		Logger:         newTestLogger(),
		RecoveryStages: []Stage{failingStage("bad", errors.New("route blew up"))},
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	evt := NewEvent(nil)
	me := NewMessagingError(evt, errors.New("boom"))

	result := strategy.HandleFailure(context.Background(), me, evt)

	if result != evt {
		t.Fatal("expected the pre-routing event when recovery fails")
	}
	if !result.Failed() {
		t.Fatal("expected the original failure record to stay attached")
	}
}

func TestFailureStrategyCountsOnlyRoutedRecoveries(t *testing.T) {
	stats := enabledStats("suppressing")
	flow := newTestFlow(t, FlowConfig{Name: "suppressing", Statistics: stats})

	routed := 0
	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:   "suppressing",
		Logger: newTestLogger(),
		RecoveryStages: []Stage{&namedStage{name: "route", process: func(_ context.Context, event *Event) (*Event, error) {
			routed++
			return event, nil
		}}},
		BeforeRouting: func(_ context.Context, _ error, _ *Event) (*Event, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	evt := NewEvent(nil)
	evt.bindFlow(flow)

	result := strategy.HandleFailure(context.Background(), NewMessagingError(evt, errors.New("boom")), evt)
	if result != nil {
		t.Fatalf("expected the suppressed event to stay gone, got %+v", result)
	}
	if routed != 0 {
		t.Fatal("recovery must not run for a suppressed event")
	}

	snap := stats.Snapshot()
	if snap.ExecutionErrors != 1 || snap.RecoveryRouted != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestFailureStrategyHookErrorTakesTotalPath(t *testing.T) {
	hookErr := errors.New("hook exploded")
	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:   "bad-hook",
		Logger: newTestLogger(),
		BeforeRouting: func(_ context.Context, _ error, _ *Event) (*Event, error) {
			return nil, hookErr
		},
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	tx := &testTransaction{}
	ctx := WithTransaction(context.Background(), tx)

	evt := NewEvent(nil)
	me := NewMessagingError(evt, errors.New("boom"))

	result := strategy.HandleFailure(ctx, me, evt)

	if result != evt {
		t.Fatal("expected the original event back from the total path")
	}
	if !tx.rolledBack() {
		t.Fatal("expected the context transaction to be rolled back")
	}
	cause := result.FailureCause()
	if cause == nil || !errors.Is(cause, hookErr) {
		t.Fatalf("expected the wrapped hook failure attached, got %v", cause)
	}
	if me.Handled() {
		t.Fatal("the total path must not mark the failure handled")
	}
}

func TestFailureStrategyPanicTakesTotalPath(t *testing.T) {
	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:   "panicking",
		Logger: newTestLogger(),
		AfterRouting: func(_ context.Context, _ error, _ *Event) (*Event, error) {
			panic("hook panic")
		},
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	tx := &testTransaction{}
	ctx := WithTransaction(context.Background(), tx)

	evt := NewEvent(nil)
	result := strategy.HandleFailure(ctx, NewMessagingError(evt, errors.New("boom")), evt)

	if result != evt {
		t.Fatal("expected the original event back after a panic")
	}
	if !tx.rolledBack() {
		t.Fatal("expected the context transaction to be rolled back")
	}
	cause := result.FailureCause()
	if cause == nil || !strings.Contains(cause.Error(), "failure strategy panicked") {
		t.Fatalf("expected the panic recorded as failure cause, got %v", cause)
	}
}

func TestFailureStrategyEmitsFailureNotification(t *testing.T) {
	sink := &recordingSink{}
	dispatcher := NewDispatcher(newTestLogger(), 16, sink)

	strategy, err := NewFailureStrategy(FailureStrategyConfig{
		Name:     "notifying",
		Logger:   newTestLogger(),
		Notifier: dispatcher,
	})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	evt := NewEvent(nil)
	me := NewMessagingError(evt, errors.New("boom")).withStage("transform")
	strategy.HandleFailure(context.Background(), me, evt)
	dispatcher.Close()

	failures := sink.Failures()
	if len(failures) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(failures))
	}
	n := failures[0]
	if n.EventID != evt.ID || n.Stage != "transform" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if !strings.Contains(n.Reason, "boom") {
		t.Fatalf("expected the cause in the reason, got %s", n.Reason)
	}
}

func TestFailureStrategyClosesStreamingPayload(t *testing.T) {
	strategy, err := NewFailureStrategy(FailureStrategyConfig{Name: "closer", Logger: newTestLogger()})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	payload := &closingPayload{}
	evt := NewEvent(payload)

	strategy.HandleFailure(context.Background(), NewMessagingError(evt, errors.New("boom")), evt)

	if !payload.closed {
		t.Fatal("expected the streaming payload to be closed")
	}
}

func TestHandleFailureToleratesNilEvent(t *testing.T) {
	strategy, err := NewFailureStrategy(FailureStrategyConfig{Name: "nil-safe", Logger: newTestLogger()})
	if err != nil {
		t.Fatalf("strategy init failed: %v", err)
	}

	result := strategy.HandleFailure(context.Background(), errors.New("boom"), nil)
	if result != nil {
		t.Fatalf("expected nil outcome for a nil event, got %+v", result)
	}
}

type closingPayload struct {
	closed bool
}

func (c *closingPayload) Close() error {
	c.closed = true
	return nil
}
