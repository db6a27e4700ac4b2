package engine

import (
	"fmt"

	errspkg "github.com/drblury/stageflow/internal/engine/errors"
)

// HandlerChain is an ordered list of failure strategies. Selection walks
// the list and the first strategy accepting the failing event wins.
//
// A strategy with no acceptance conditions matches everything, so it may
// only sit in the last position. NewHandlerChain rejects any other layout at
// construction time instead of letting later entries go permanently dead.
type HandlerChain struct {
	entries []*FailureStrategy
}

// NewHandlerChain validates and builds the ordered strategy list.
func NewHandlerChain(strategies ...*FailureStrategy) (*HandlerChain, error) {
	for i, st := range strategies {
		if st == nil {
			return nil, fmt.Errorf("%w: position %d", errspkg.ErrStrategyRequired, i)
		}
		if st.AcceptsAll() && i != len(strategies)-1 {
			return nil, fmt.Errorf("%w: %q at position %d", errspkg.ErrCatchAllNotLast, st.Name(), i)
		}
	}
	return &HandlerChain{entries: strategies}, nil
}

// Select returns the first strategy accepting the failing event, or false
// when none does. Safe on a nil receiver.
func (h *HandlerChain) Select(event *Event, cause error) (*FailureStrategy, bool) {
	if h == nil {
		return nil, false
	}
	for _, st := range h.entries {
		if st.Accept(event, cause) {
			return st, true
		}
	}
	return nil, false
}

// Len returns the number of strategies.
func (h *HandlerChain) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Names returns the strategy names in selection order.
func (h *HandlerChain) Names() []string {
	if h == nil {
		return nil
	}
	names := make([]string, len(h.entries))
	for i, st := range h.entries {
		names[i] = st.Name()
	}
	return names
}
