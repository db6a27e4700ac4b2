package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("stageflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("stageflow: logger is required")
	ErrFlowNameRequired   = sterrors.New("stageflow: flow name is required")
	ErrFlowAlreadyExists  = sterrors.New("stageflow: flow is already registered")
	ErrFlowNotFound       = sterrors.New("stageflow: flow is not registered")
	ErrStageRequired      = sterrors.New("stageflow: stage is required")
	ErrStrategyRequired   = sterrors.New("stageflow: failure strategy is required")
	ErrCatchAllNotLast    = sterrors.New("stageflow: catch-all failure strategy must be the last entry")
	ErrPublisherRequired  = sterrors.New("stageflow: publisher is required")
	ErrTopicRequired      = sterrors.New("stageflow: topic is required")
	ErrNoStrategyAccepted = sterrors.New("stageflow: no failure strategy accepted the event")
	ErrEngineClosed       = sterrors.New("stageflow: engine is closed")
)

// ConfigValidationError wraps the joined validation failures of a Config so
// callers can match on the category while still reaching the field-level
// errors through Unwrap.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("stageflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err in a ConfigValidationError. A nil err
// returns nil so callers can pass a Validate result straight through.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
