package engine

import (
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/stageflow/internal/engine/ids"
	"github.com/drblury/stageflow/internal/engine/metadata"
)

// Event is the unit of work traveling through a flow. Stages receive an
// event, transform its payload or metadata, and hand it to the next stage.
//
// Events are passed by pointer and are not safe for concurrent mutation; a
// stage owns the event for the duration of its Process call. Clone produces
// an isolated copy when an event has to survive a stage that may consume it.
type Event struct {
	// ID uniquely identifies the event. Generated as a ULID on admission so
	// IDs sort by arrival time.
	ID string

	// Payload is the application data. The engine never inspects it beyond
	// cloning and optional JSON encoding for replies and notifications.
	Payload any

	// Metadata carries the string headers traveling with the payload.
	Metadata metadata.Metadata

	failure    *FailureRecord
	flow       *Flow
	completion *Completion
}

// NewEvent creates an event carrying payload with a generated ID, empty
// metadata and a fresh completion handle.
func NewEvent(payload any) *Event {
	return &Event{
		ID:         ids.NewEventID(),
		Payload:    payload,
		Metadata:   metadata.Metadata{},
		completion: newCompletion(),
	}
}

// NewEventWithID creates an event with a caller-supplied ID. Used when the
// event mirrors a message that already has an identity on a broker.
func NewEventWithID(id string, payload any) *Event {
	evt := NewEvent(payload)
	evt.ID = id
	return evt
}

// PayloadCloner lets payload types control how they are duplicated when the
// engine clones an event. Payloads that do not implement it (and are neither
// proto messages nor byte slices) are shared between the original and the
// clone.
type PayloadCloner interface {
	ClonePayload() any
}

// Clone returns a copy of the event that shares no mutable state with the
// receiver except the payload (see PayloadCloner) and the completion handle.
// The completion is shared deliberately: a clone still answers the same
// submission.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}

	clone := &Event{
		ID:         e.ID,
		Payload:    clonePayload(e.Payload),
		Metadata:   e.Metadata.Clone(),
		flow:       e.flow,
		completion: e.completion,
	}
	if e.failure != nil {
		f := *e.failure
		clone.failure = &f
	}
	return clone
}

func clonePayload(p any) any {
	switch v := p.(type) {
	case nil:
		return nil
	case PayloadCloner:
		return v.ClonePayload()
	case proto.Message:
		return proto.Clone(v)
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out
	default:
		return p
	}
}

// FailureRecord describes the failure attached to an event while a failure
// strategy routes it through recovery.
type FailureRecord struct {
	// Err is the failure that interrupted processing.
	Err error
	// At is when the failure was recorded.
	At time.Time
}

func newFailureRecord(err error) *FailureRecord {
	return &FailureRecord{Err: err, At: time.Now().UTC()}
}

// Failure returns the attached failure record, or nil when the event is not
// failing.
func (e *Event) Failure() *FailureRecord {
	return e.failure
}

// Failed reports whether a failure record is attached.
func (e *Event) Failed() bool {
	return e.failure != nil
}

// FailureCause returns the error behind the attached failure record, or nil.
func (e *Event) FailureCause() error {
	if e.failure == nil {
		return nil
	}
	return e.failure.Err
}

// SetFailure attaches a failure record for err, replacing any prior record.
func (e *Event) SetFailure(err error) {
	e.failure = newFailureRecord(err)
}

// ClearFailure removes the failure record. Strategies that absorb a failure
// call this so downstream consumers see a clean event.
func (e *Event) ClearFailure() {
	e.failure = nil
}

// Flow returns the flow currently processing the event, or nil when the
// event has not been admitted to a flow.
func (e *Event) Flow() *Flow {
	return e.flow
}

// FlowName returns the name of the processing flow, or "" when unbound.
func (e *Event) FlowName() string {
	if e.flow == nil {
		return ""
	}
	return e.flow.Name()
}

func (e *Event) bindFlow(f *Flow) {
	e.flow = f
}

// statistics returns the counters of the hosting flow, or nil when the event
// is unbound. Failure strategies use it so counting follows the event's own
// flow rather than whichever component happens to run the strategy. Safe on
// a nil receiver.
func (e *Event) statistics() *FlowStatistics {
	if e == nil || e.flow == nil {
		return nil
	}
	return e.flow.Statistics()
}

// Completion returns the handle a submitter can wait on for the final
// outcome of this event. Never nil for events built by NewEvent; events
// constructed literally get a handle lazily.
func (e *Event) Completion() *Completion {
	if e.completion == nil {
		e.completion = newCompletion()
	}
	return e.completion
}
