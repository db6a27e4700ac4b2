package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/stageflow/internal/engine/errors"
	"github.com/drblury/stageflow/internal/engine/ids"
	"github.com/drblury/stageflow/internal/engine/jsoncodec"
	"github.com/drblury/stageflow/internal/engine/logging"
	"github.com/drblury/stageflow/internal/engine/metadata"
)

// StagePhase tells sink consumers whether a stage notification was emitted
// before or after the stage ran.
type StagePhase string

const (
	PhaseBefore StagePhase = "before"
	PhaseAfter  StagePhase = "after"
)

// StageNotification reports one stage invocation inside a flow.
type StageNotification struct {
	ID    string     `json:"id"`
	Flow  string     `json:"flow"`
	Stage string     `json:"stage"`
	Phase StagePhase `json:"phase"`
	// EventID is empty when the stage consumed the event.
	EventID string `json:"event_id,omitempty"`
	// EventConsumed is true on an after-phase notification whose stage
	// returned no event.
	EventConsumed bool      `json:"event_consumed,omitempty"`
	At            time.Time `json:"at"`
}

// FailureNotification reports that an event's processing failed and a
// failure strategy is about to route it.
type FailureNotification struct {
	ID      string    `json:"id"`
	Flow    string    `json:"flow"`
	Stage   string    `json:"stage,omitempty"`
	EventID string    `json:"event_id,omitempty"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// NotificationSink consumes lifecycle notifications. Sinks run on the
// dispatcher goroutine: a slow sink delays other sinks but never the flows
// themselves, and a panicking sink is isolated and logged.
type NotificationSink interface {
	OnStage(ctx context.Context, n StageNotification)
	OnFailure(ctx context.Context, n FailureNotification)
}

// SinkFuncs adapts plain functions to the NotificationSink interface. Nil
// fields are skipped.
type SinkFuncs struct {
	Stage   func(ctx context.Context, n StageNotification)
	Failure func(ctx context.Context, n FailureNotification)
}

func (s SinkFuncs) OnStage(ctx context.Context, n StageNotification) {
	if s.Stage != nil {
		s.Stage(ctx, n)
	}
}

func (s SinkFuncs) OnFailure(ctx context.Context, n FailureNotification) {
	if s.Failure != nil {
		s.Failure(ctx, n)
	}
}

type dispatchJob struct {
	stage   *StageNotification
	failure *FailureNotification
}

// Dispatcher fans notifications out to sinks without ever blocking event
// processing: emission enqueues onto a bounded queue and returns, and when
// the queue is full the notification is dropped and counted.
//
// A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	logger  logging.ServiceLogger
	sinks   []NotificationSink
	queue   chan dispatchJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher delivering to sinks in order. A buffer
// of zero or less falls back to a small default.
func NewDispatcher(logger logging.ServiceLogger, buffer int, sinks ...NotificationSink) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		logger: logging.OrNop(logger),
		sinks:  sinks,
		queue:  make(chan dispatchJob, buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job dispatchJob) {
	ctx := context.Background()
	for _, sink := range d.sinks {
		d.deliverOne(ctx, sink, job)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, sink NotificationSink, job dispatchJob) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked", fmt.Errorf("panic: %v", r), logging.LogFields{
				"sink": fmt.Sprintf("%T", sink),
			})
		}
	}()

	switch {
	case job.stage != nil:
		sink.OnStage(ctx, *job.stage)
	case job.failure != nil:
		sink.OnFailure(ctx, *job.failure)
	}
}

// NotifyStage enqueues a stage notification. ID and timestamp are filled in
// when absent.
func (d *Dispatcher) NotifyStage(n StageNotification) {
	if d == nil {
		return
	}
	if n.ID == "" {
		n.ID = ids.NewNotificationID()
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	d.enqueue(dispatchJob{stage: &n})
}

// NotifyFailure enqueues a failure notification. ID and timestamp are filled
// in when absent.
func (d *Dispatcher) NotifyFailure(n FailureNotification) {
	if d == nil {
		return
	}
	if n.ID == "" {
		n.ID = ids.NewNotificationID()
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	d.enqueue(dispatchJob{failure: &n})
}

func (d *Dispatcher) enqueue(job dispatchJob) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- job:
	default:
		d.dropped.Add(1)
		d.logger.Debug("notification dropped, queue full", nil)
	}
}

// Dropped returns how many notifications were discarded because the queue
// was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops accepting notifications, delivers what is already queued and
// waits for the delivery goroutine to exit. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.queue)
		d.wg.Wait()
	})
}

// PublisherSink forwards notifications to a message broker through a
// Watermill publisher. Publishing is best effort: failures are logged and
// never surface to the flows.
type PublisherSink struct {
	publisher    message.Publisher
	stageTopic   string
	failureTopic string
	logger       logging.ServiceLogger
}

// NewPublisherSink builds a sink publishing stage notifications to
// stageTopic and failure notifications to failureTopic.
func NewPublisherSink(publisher message.Publisher, stageTopic, failureTopic string, logger logging.ServiceLogger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if stageTopic == "" || failureTopic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	return &PublisherSink{
		publisher:    publisher,
		stageTopic:   stageTopic,
		failureTopic: failureTopic,
		logger:       logging.OrNop(logger),
	}, nil
}

func (s *PublisherSink) OnStage(ctx context.Context, n StageNotification) {
	s.publish(s.stageTopic, n.ID, n.Flow, n)
}

func (s *PublisherSink) OnFailure(ctx context.Context, n FailureNotification) {
	s.publish(s.failureTopic, n.ID, n.Flow, n)
}

func (s *PublisherSink) publish(topic, id, flow string, body any) {
	payload, err := jsoncodec.Marshal(body)
	if err != nil {
		s.logger.Error("encode notification", err, logging.LogFields{"topic": topic})
		return
	}

	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(metadata.KeyFlow, flow)

	if err := s.publisher.Publish(topic, msg); err != nil {
		s.logger.Error("publish notification", err, logging.LogFields{"topic": topic})
	}
}

// LoggerSink writes notifications to the service logger. Stage traffic goes
// to trace so it stays cheap to leave enabled; failures go to debug because
// the owning strategy already logs them at error.
type LoggerSink struct {
	logger logging.ServiceLogger
}

func NewLoggerSink(logger logging.ServiceLogger) *LoggerSink {
	return &LoggerSink{logger: logging.OrNop(logger)}
}

func (s *LoggerSink) OnStage(ctx context.Context, n StageNotification) {
	s.logger.Trace("stage notification", logging.LogFields{
		"flow":     n.Flow,
		"stage":    n.Stage,
		"phase":    string(n.Phase),
		"event_id": n.EventID,
		"consumed": n.EventConsumed,
	})
}

func (s *LoggerSink) OnFailure(ctx context.Context, n FailureNotification) {
	s.logger.Debug("failure notification", logging.LogFields{
		"flow":     n.Flow,
		"stage":    n.Stage,
		"event_id": n.EventID,
		"reason":   n.Reason,
	})
}
