// Package io provides a file journal backend. Published messages append to a
// JSON-lines file and subscribers tail it, which gives pipelines a broker-free
// audit trail and a simple way to replay events during development.
package io

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stageflow/internal/engine/jsoncodec"
	"github.com/drblury/stageflow/transport"
)

// BackendName is the name this backend registers under.
const BackendName = "io"

// DefaultFilePath is the journal path when the config names none.
const DefaultFilePath = "events.jsonl"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{filePath: filePath, logger: logger}, nil
}

// Register adds the file journal backend to the default registry.
// Registration is explicit rather than an init side effect; the transports
// package calls it for you.
func Register() {
	transport.RegisterWithCapabilities(BackendName, Build, transport.IOCapabilities)
}

// Build creates a file journal transport at cfg.IOFile.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.IOFile
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// journalEntry is the JSON line format for persisted messages.
type journalEntry struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends messages to the journal file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish appends one JSON line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		entry := journalEntry{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := jsoncodec.Marshal(entry)
		if err != nil {
			return err
		}

		if _, err := f.Write(b); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails the journal file and emits entries matching the topic.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter
}

// Subscribe tails the journal from the start and keeps following appends
// until the context is canceled.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)

	go func() {
		defer close(out)

		f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0600)
		if err != nil {
			s.logger.Error("Failed to open journal", err, nil)
			return
		}
		defer f.Close()

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if err == io.EOF {
						if !s.waitForMore(f, reader, &lastPos) {
							return
						}
						continue
					}
					s.logger.Error("Failed to read journal", err, nil)
					return
				}

				currentPos, _ := f.Seek(0, io.SeekCurrent)
				lastPos = currentPos - int64(reader.Buffered())

				if !s.deliver(ctx, out, line, topic) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the subscriber.
func (s *Subscriber) Close() error {
	return nil
}

// waitForMore polls for appends, re-seeking to just after the last complete
// line so a partially written line is re-read in full once it lands.
func (s *Subscriber) waitForMore(f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	time.Sleep(50 * time.Millisecond)

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek journal", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

// deliver parses a journal line and hands it to the consumer. Lines for other
// topics and malformed lines are skipped.
func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	var entry journalEntry
	if err := jsoncodec.Unmarshal(line, &entry); err != nil {
		s.logger.Error("Failed to unmarshal journal entry", err, nil)
		return true
	}

	if entry.Topic != topic {
		return true
	}

	msg := message.NewMessage(entry.UUID, entry.Payload)
	msg.Metadata = entry.Metadata

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}
