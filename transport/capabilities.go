package transport

import "time"

// Capabilities describes what a backend can do. Failure strategies and
// recovery flows use this to decide whether the broker can park or delay
// messages natively or whether the pipeline has to emulate it.
type Capabilities struct {
	// SupportsDelay indicates the backend can hold a message back until a
	// deadline. When false, delayed redelivery must be emulated in the flow.
	SupportsDelay bool

	// SupportsNativeDLQ indicates the backend can park poison messages on its
	// own. When false, recovery stages route them through ordinary topics.
	SupportsNativeDLQ bool

	// SupportsOrdering indicates messages within a partition or stream arrive
	// in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates the backend propagates tracing headers.
	SupportsTracing bool

	// SupportsBatching indicates the backend can batch multiple messages.
	SupportsBatching bool

	// SupportsAck indicates explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates negative acknowledgment with redelivery.
	SupportsNack bool

	// SupportsPartitioning indicates the backend partitions topics.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum message size in bytes (0 = unknown).
	MaxMessageSize int64

	// MaxDelay is the longest native delay the backend honors (0 = unknown).
	MaxDelay time.Duration

	// Name is the backend name as registered.
	Name string
}

// RequiresDelayEmulation reports whether delayed redelivery has to happen in
// the pipeline because the backend cannot hold messages back itself.
func (c Capabilities) RequiresDelayEmulation() bool {
	return !c.SupportsDelay
}

// RequiresDLQEmulation reports whether poison messages have to be routed
// through ordinary topics because the backend has no native dead letter queue.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery reports at-least-once semantics (ack plus nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Capability sets for the built-in backends.
var (
	// ChannelCapabilities for the in-memory Go channel backend.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the Apache Kafka backend.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsPartitioning: true,
		MaxMessageSize:       1 << 20,
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP backend.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// NATSCapabilities for the NATS core backend.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1 << 20,
	}

	// NATSJetStreamCapabilities for the NATS JetStream backend.
	NATSJetStreamCapabilities = Capabilities{
		Name:              "nats-jetstream",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    1 << 20,
	}

	// AWSCapabilities for the AWS SNS/SQS backend.
	AWSCapabilities = Capabilities{
		Name:              "aws",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    256 << 10,
		MaxDelay:          15 * time.Minute,
	}

	// HTTPCapabilities for the webhook backend.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities for the file journal backend.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
	}
)

// GetCapabilities looks up the capabilities a backend registered with the
// default registry. Unknown backends report a zero set carrying the name.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
