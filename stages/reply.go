package stages

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stageflow"
)

// ReplyRelay returns a stage that publishes the event to the topic named in
// its reply-to header and passes the event through. Events without the
// header pass through untouched.
//
// The stage declares ReplyType: when an earlier stage in the pass already
// consumed the event, the relay's result is discarded instead of bringing
// the event back to life. Unlike the engine's own best-effort reply
// propagation, a publish failure here fails the stage, so callers who made
// replying an explicit step get failure handling for it.
func ReplyRelay(publisher message.Publisher) stageflow.Stage {
	return &replyRelayStage{publisher: publisher}
}

type replyRelayStage struct {
	publisher message.Publisher
}

func (s *replyRelayStage) Name() string {
	return "reply-relay"
}

func (s *replyRelayStage) ResponseTraits() stageflow.ResponseTraits {
	return stageflow.ResponseTraits{ReplyType: true}
}

func (s *replyRelayStage) Process(ctx context.Context, event *stageflow.Event) (*stageflow.Event, error) {
	topic := event.Metadata.ReplyTo()
	if topic == "" {
		return event, nil
	}

	body, err := encodePayload(event.Payload)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(event.ID, body)
	msg.Metadata = stageflow.MetadataToWatermill(event.Metadata)
	msg.SetContext(ctx)

	if err := s.publisher.Publish(topic, msg); err != nil {
		return nil, err
	}
	return event, nil
}
