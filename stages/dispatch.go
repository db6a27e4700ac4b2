package stages

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stageflow"
)

// Dispatch returns a consuming stage that publishes the event to topic and
// ends its propagation: on success the stage returns no event. It declares
// MayReturnNil, so inside a flow the stages after it continue on the
// snapshot taken before the dispatch.
//
// The message carries the event ID as its UUID, the event metadata as
// message metadata, and the payload encoded like replies: bytes and strings
// pass through, everything else is JSON.
func Dispatch(topic string, publisher message.Publisher) stageflow.Stage {
	return &dispatchStage{topic: topic, publisher: publisher}
}

type dispatchStage struct {
	topic     string
	publisher message.Publisher
}

func (s *dispatchStage) Name() string {
	return "dispatch:" + s.topic
}

func (s *dispatchStage) ResponseTraits() stageflow.ResponseTraits {
	return stageflow.ResponseTraits{MayReturnNil: true}
}

func (s *dispatchStage) Process(ctx context.Context, event *stageflow.Event) (*stageflow.Event, error) {
	body, err := encodePayload(event.Payload)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(event.ID, body)
	msg.Metadata = stageflow.MetadataToWatermill(event.Metadata)
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return nil, err
	}
	return nil, nil
}
