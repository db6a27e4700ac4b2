package engine

import (
	"fmt"
	"sync/atomic"
)

// MessagingError is the error a chain raises when a stage fails. It pairs
// the cause with the event that was in flight so failure strategies can
// route the exact state that failed, and carries a handled flag recording
// that some strategy already absorbed the failure.
type MessagingError struct {
	event   *Event
	cause   error
	stage   string
	handled atomic.Bool
}

// NewMessagingError wraps cause together with the event in flight when the
// failure occurred. If cause already is a MessagingError it is returned
// unchanged, so the event captured nearest to the failure wins no matter how
// many chains the error bubbles through.
func NewMessagingError(event *Event, cause error) *MessagingError {
	if me, ok := cause.(*MessagingError); ok {
		return me
	}
	return &MessagingError{event: event, cause: cause}
}

func (e *MessagingError) withStage(name string) *MessagingError {
	if e.stage == "" {
		e.stage = name
	}
	return e
}

func (e *MessagingError) Error() string {
	if e.event != nil {
		return fmt.Sprintf("stageflow: event %s: %v", e.event.ID, e.cause)
	}
	return fmt.Sprintf("stageflow: %v", e.cause)
}

func (e *MessagingError) Unwrap() error {
	return e.cause
}

// Event returns the event that was in flight when the failure occurred.
func (e *MessagingError) Event() *Event {
	return e.event
}

// FailingStage returns the name of the stage whose invocation failed, or ""
// when the failure did not originate in a chain.
func (e *MessagingError) FailingStage() string {
	return e.stage
}

// MarkHandled records that a failure strategy absorbed this error. Marking
// is idempotent and safe for concurrent use.
func (e *MessagingError) MarkHandled() {
	e.handled.Store(true)
}

// Handled reports whether a failure strategy absorbed this error. Callers
// seeing a handled error must not report it again.
func (e *MessagingError) Handled() bool {
	return e.handled.Load()
}
