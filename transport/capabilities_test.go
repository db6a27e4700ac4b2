package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesEmulationHelpers(t *testing.T) {
	t.Run("delay emulation", func(t *testing.T) {
		assert.False(t, Capabilities{SupportsDelay: true}.RequiresDelayEmulation())
		assert.True(t, Capabilities{SupportsDelay: false}.RequiresDelayEmulation())
	})

	t.Run("DLQ emulation", func(t *testing.T) {
		assert.False(t, Capabilities{SupportsNativeDLQ: true}.RequiresDLQEmulation())
		assert.True(t, Capabilities{SupportsNativeDLQ: false}.RequiresDLQEmulation())
	})
}

func TestCapabilitiesSupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"ack and nack", Capabilities{SupportsAck: true, SupportsNack: true}, true},
		{"ack only", Capabilities{SupportsAck: true}, false},
		{"nack only", Capabilities{SupportsNack: true}, false},
		{"neither", Capabilities{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestBuiltinCapabilitySets(t *testing.T) {
	t.Run("channel", func(t *testing.T) {
		assert.Equal(t, "channel", ChannelCapabilities.Name)
		assert.True(t, ChannelCapabilities.SupportsOrdering)
		assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
		assert.False(t, ChannelCapabilities.SupportsDelay)
	})

	t.Run("kafka", func(t *testing.T) {
		assert.Equal(t, "kafka", KafkaCapabilities.Name)
		assert.True(t, KafkaCapabilities.SupportsOrdering)
		assert.True(t, KafkaCapabilities.SupportsPartitioning)
		assert.True(t, KafkaCapabilities.SupportsBatching)
		assert.True(t, KafkaCapabilities.RequiresDelayEmulation())
		assert.Greater(t, KafkaCapabilities.MaxMessageSize, int64(0))
	})

	t.Run("rabbitmq", func(t *testing.T) {
		assert.Equal(t, "rabbitmq", RabbitMQCapabilities.Name)
		assert.True(t, RabbitMQCapabilities.SupportsDelay)
		assert.True(t, RabbitMQCapabilities.SupportsNativeDLQ)
		assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	})

	t.Run("nats", func(t *testing.T) {
		assert.Equal(t, "nats", NATSCapabilities.Name)
		assert.True(t, NATSCapabilities.RequiresDelayEmulation())
		assert.True(t, NATSCapabilities.RequiresDLQEmulation())
		assert.False(t, NATSCapabilities.SupportsAck)
	})

	t.Run("nats-jetstream", func(t *testing.T) {
		assert.Equal(t, "nats-jetstream", NATSJetStreamCapabilities.Name)
		assert.True(t, NATSJetStreamCapabilities.SupportsDelay)
		assert.True(t, NATSJetStreamCapabilities.SupportsNativeDLQ)
		assert.True(t, NATSJetStreamCapabilities.SupportsOrdering)
		assert.True(t, NATSJetStreamCapabilities.SupportsReliableDelivery())
	})

	t.Run("aws", func(t *testing.T) {
		assert.Equal(t, "aws", AWSCapabilities.Name)
		assert.True(t, AWSCapabilities.SupportsDelay)
		assert.True(t, AWSCapabilities.SupportsNativeDLQ)
		assert.Greater(t, AWSCapabilities.MaxMessageSize, int64(0))
		assert.Greater(t, AWSCapabilities.MaxDelay.Minutes(), 0.0)
	})

	t.Run("http", func(t *testing.T) {
		assert.Equal(t, "http", HTTPCapabilities.Name)
		assert.True(t, HTTPCapabilities.SupportsTracing)
		assert.True(t, HTTPCapabilities.RequiresDLQEmulation())
	})

	t.Run("io", func(t *testing.T) {
		assert.Equal(t, "io", IOCapabilities.Name)
		assert.True(t, IOCapabilities.SupportsOrdering)
		assert.True(t, IOCapabilities.RequiresDelayEmulation())
	})
}

func TestCapabilitiesZeroValue(t *testing.T) {
	var caps Capabilities
	assert.True(t, caps.RequiresDelayEmulation())
	assert.True(t, caps.RequiresDLQEmulation())
	assert.False(t, caps.SupportsReliableDelivery())
}
