// Package jetstream provides a NATS JetStream backend with durable consumers
// and delayed redelivery. Recovery flows that requeue failed events with a
// backoff set the delay metadata key; the fetch loop NAKs messages that are
// not yet due so the server redelivers them later.
package jetstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/stageflow/internal/engine/ids"
	"github.com/drblury/stageflow/internal/engine/jsoncodec"
	"github.com/drblury/stageflow/transport"
)

// BackendName is the name this backend registers under.
const BackendName = "nats-jetstream"

const (
	// DefaultStreamName is the stream events are stored in when the config
	// does not name one.
	DefaultStreamName = "STAGEFLOW"

	// DefaultMaxDeliver is the default number of delivery attempts before the
	// server stops redelivering a message.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge is how long the stream retains messages by default.
	DefaultMaxAge = 7 * 24 * time.Hour

	// MetadataDelay holds the requested redelivery delay in milliseconds.
	// Publishers set it on the outgoing message metadata.
	MetadataDelay = "sf_delay_ms"

	headerMessageID    = "sf_msg_id"
	headerPublishedAt  = "sf_published_at"
	headerDeliverAfter = "sf_deliver_after"
)

func init() {
	transport.RegisterWithCapabilities(BackendName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a JetStream transport from cfg.NATSURL with default stream
// settings. Use New directly for full control over the stream.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.NATSURL}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream-specific settings.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the stream messages are stored in. Topics become subjects
	// below it. Defaults to "STAGEFLOW".
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is how long the server waits for an ack before redelivering.
	AckWait time.Duration

	// MaxAge is how long the stream retains messages.
	MaxAge time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy is "limits" (default), "interest" or "workqueue".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport implements message.Publisher and message.Subscriber on a single
// JetStream connection.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions map[string]*nats.Subscription
	subMu         sync.RWMutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

var _ transport.CapabilitiesProvider = (*Transport)(nil)

// New connects to the NATS server and ensures the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:            nc,
		js:            js,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
		closedChan:    make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:     t.config.StreamName,
		Subjects: []string{t.config.StreamName + ".>"},
		MaxAge:   t.config.MaxAge,
		Replicas: t.config.Replicas,
	}

	switch t.config.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nats.WorkQueuePolicy
	default:
		streamCfg.Retention = nats.LimitsPolicy
	}

	_, err := t.js.AddStream(streamCfg)
	if err != nil {
		_, err = t.js.UpdateStream(streamCfg)
		if err != nil && t.logger != nil {
			t.logger.Info("JetStream stream exists", watermill.LogFields{
				"stream": t.config.StreamName,
			})
		}
	}

	return nil
}

// Publish stores messages in the stream. A MetadataDelay value turns into a
// deliver-after header that the fetch loop honors on the consuming side.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := t.topicToSubject(topic)

	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(headerMessageID, msg.UUID)

		if delayStr := msg.Metadata.Get(MetadataDelay); delayStr != "" {
			delayMs, err := strconv.ParseInt(delayStr, 10, 64)
			if err == nil && delayMs > 0 {
				now := time.Now()
				headers.Set(headerPublishedAt, strconv.FormatInt(now.UnixMilli(), 10))
				headers.Set(headerDeliverAfter, strconv.FormatInt(now.Add(time.Duration(delayMs)*time.Millisecond).UnixMilli(), 10))
			}
		}

		natsMsg := &nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}

		if _, err := t.js.PublishMsg(natsMsg); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}

	return nil
}

// Subscribe creates a durable pull consumer for the topic and returns the
// message channel.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := t.topicToSubject(topic)
	consumerName := t.topicToConsumer(topic)
	output := make(chan *message.Message)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	_, err := t.js.AddConsumer(t.config.StreamName, consumerCfg)
	if err != nil {
		_, err = t.js.UpdateConsumer(t.config.StreamName, consumerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.subMu.Lock()
	t.subscriptions[topic] = sub
	t.subMu.Unlock()

	go t.fetchMessages(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if t.logger != nil {
				t.logger.Error("Failed to fetch messages", err, watermill.LogFields{
					"topic": topic,
				})
			}
			continue
		}

		for _, natsMsg := range msgs {
			if deliverAfter := natsMsg.Header.Get(headerDeliverAfter); deliverAfter != "" {
				dueAt, err := strconv.ParseInt(deliverAfter, 10, 64)
				if err == nil && time.Now().UnixMilli() < dueAt {
					remaining := time.Duration(dueAt-time.Now().UnixMilli()) * time.Millisecond
					if err := natsMsg.NakWithDelay(remaining); err != nil && t.logger != nil {
						t.logger.Error("Failed to NAK delayed message", err, nil)
					}
					continue
				}
			}

			wmMsg := t.natsToWatermill(natsMsg)

			select {
			case output <- wmMsg:
				select {
				case <-wmMsg.Acked():
					if err := natsMsg.Ack(); err != nil && t.logger != nil {
						t.logger.Error("Failed to ack", err, nil)
					}
				case <-wmMsg.Nacked():
					if err := natsMsg.Nak(); err != nil && t.logger != nil {
						t.logger.Error("Failed to nak", err, nil)
					}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// natsToWatermill converts a raw NATS message. The message ID comes from the
// sf_msg_id header when this transport published it; for messages from other
// producers it falls back to an "id" field in a JSON payload, then to a fresh
// ULID.
func (t *Transport) natsToWatermill(natsMsg *nats.Msg) *message.Message {
	msgID := natsMsg.Header.Get(headerMessageID)
	if msgID == "" {
		var payload map[string]any
		if err := jsoncodec.Unmarshal(natsMsg.Data, &payload); err == nil {
			if id, ok := payload["id"].(string); ok {
				msgID = id
			}
		}
	}
	if msgID == "" {
		msgID = ids.NewEventID()
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)

	for k, v := range natsMsg.Header {
		if len(v) > 0 {
			wmMsg.Metadata.Set(k, v[0])
		}
	}

	return wmMsg
}

func (t *Transport) topicToSubject(topic string) string {
	return t.config.StreamName + "." + topic
}

// Durable consumer names must not contain dots.
func (t *Transport) topicToConsumer(topic string) string {
	return "consumer_" + strings.ReplaceAll(topic, ".", "_")
}

// Close unsubscribes all consumers and closes the connection.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		sub.Unsubscribe()
	}
	t.subscriptions = make(map[string]*nats.Subscription)
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}

// Capabilities implements transport.CapabilitiesProvider.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
