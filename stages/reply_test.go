package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/drblury/stageflow"
)

func TestReplyRelayPublishesToHeaderTopic(t *testing.T) {
	pub := &fakePublisher{}
	stage := ReplyRelay(pub)

	evt := stageflow.NewEvent("done")
	evt.Metadata = evt.Metadata.With(stageflow.MetadataKeyReplyTo, "replies.orders")

	result, err := stage.Process(context.Background(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != evt {
		t.Fatal("expected the event passed through")
	}

	published := pub.Published()
	if len(published) != 1 {
		t.Fatalf("expected one message, got %d", len(published))
	}
	if published[0].topic != "replies.orders" {
		t.Fatalf("unexpected topic: %q", published[0].topic)
	}
	if string(published[0].msg.Payload) != "done" {
		t.Fatalf("unexpected payload: %s", published[0].msg.Payload)
	}

	traits := stageTraits(t, stage)
	if !traits.ReplyType || traits.MayReturnNil {
		t.Fatalf("unexpected traits: %+v", traits)
	}
}

func TestReplyRelayWithoutHeaderSkipsPublish(t *testing.T) {
	pub := &fakePublisher{}
	stage := ReplyRelay(pub)

	evt := stageflow.NewEvent("no reply wanted")
	result, err := stage.Process(context.Background(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != evt {
		t.Fatal("expected the event passed through")
	}
	if len(pub.Published()) != 0 {
		t.Fatal("expected no publish without a reply-to header")
	}
}

func TestReplyRelayPublishErrorFailsStage(t *testing.T) {
	boom := errors.New("broker down")
	pub := &fakePublisher{err: boom}
	stage := ReplyRelay(pub)

	evt := stageflow.NewEvent(nil)
	evt.Metadata = evt.Metadata.With(stageflow.MetadataKeyReplyTo, "replies")

	if _, err := stage.Process(context.Background(), evt); !errors.Is(err, boom) {
		t.Fatalf("expected the publish error, got %v", err)
	}
}
