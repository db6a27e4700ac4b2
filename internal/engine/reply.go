package engine

import (
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stageflow/internal/engine/jsoncodec"
	"github.com/drblury/stageflow/internal/engine/logging"
	"github.com/drblury/stageflow/internal/engine/metadata"
)

// propagateReply publishes the final event of an exchange back to the topic
// the submitter named in the reply-to header. It is best effort on every
// path that calls it: a missing publisher, a missing header or a publish
// failure never disturb the event outcome.
func propagateReply(pub message.Publisher, event *Event, log logging.ServiceLogger) {
	if pub == nil || event == nil {
		return
	}

	topic := event.Metadata.ReplyTo()
	if topic == "" {
		return
	}

	body := encodeReplyPayload(event.Payload)
	msg := message.NewMessage(event.ID, body)
	msg.Metadata = metadata.ToWatermill(event.Metadata)

	if err := pub.Publish(topic, msg); err != nil {
		log.Error("reply publish failed", err, logging.LogFields{
			"topic":    topic,
			"event_id": event.ID,
		})
	}
}

func encodeReplyPayload(p any) []byte {
	switch v := p.(type) {
	case nil:
		return nil
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return jsoncodec.Raw(p)
	}
}
