// Package transport wires stageflow pipelines to message brokers. Each backend
// (kafka, rabbitmq, aws, ...) lives in its own sub-package and registers itself
// with the registry. Flows obtain publishers here for notification sinks,
// dispatch stages and reply relays, and subscribers to feed inbound events.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines the publisher and subscriber pair produced by a backend.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves of the transport. Backends that share a single
// connection for publishing and subscribing tolerate the double close.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// Builder creates a transport from config. Each backend package provides a
// Builder that it registers under its backend name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// CapabilitiesProvider is implemented by backends that report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
