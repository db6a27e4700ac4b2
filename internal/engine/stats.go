package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Statistics aggregates per-flow processing counters and exposes them as
// Prometheus collectors labeled by flow.
type Statistics struct {
	mu sync.RWMutex

	flows map[string]*FlowStatistics

	processedTotal       *prometheus.CounterVec
	consumedTotal        *prometheus.CounterVec
	executionErrorsTotal *prometheus.CounterVec
	fatalErrorsTotal     *prometheus.CounterVec
	recoveryRoutedTotal  *prometheus.CounterVec
	processingSeconds    *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newFlowCounterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stageflow",
			Subsystem: "flow",
			Name:      name,
			Help:      help,
		},
		[]string{"flow"},
	)
}

// NewStatistics creates the statistics registry. A nil registerer falls back
// to the Prometheus default registerer.
func NewStatistics(registerer prometheus.Registerer) *Statistics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Statistics{
		flows:                make(map[string]*FlowStatistics),
		registerer:           registerer,
		processedTotal:       newFlowCounterVec("events_processed_total", "Total number of events a flow processed to completion"),
		consumedTotal:        newFlowCounterVec("events_consumed_total", "Total number of events consumed mid-flow without a final result"),
		executionErrorsTotal: newFlowCounterVec("execution_errors_total", "Total number of stage failures handled by a failure strategy"),
		fatalErrorsTotal:     newFlowCounterVec("fatal_errors_total", "Total number of failures inside failure strategy execution itself"),
		recoveryRoutedTotal:  newFlowCounterVec("recovery_routed_total", "Total number of events routed through a recovery chain"),
		processingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stageflow",
				Subsystem: "flow",
				Name:      "processing_seconds",
				Help:      "Wall time events spend inside a flow",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"flow"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (s *Statistics) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		s.processedTotal,
		s.consumedTotal,
		s.executionErrorsTotal,
		s.fatalErrorsTotal,
		s.recoveryRoutedTotal,
		s.processingSeconds,
	}

	for _, c := range collectors {
		if err := s.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	s.registered = true
	return nil
}

// ForFlow returns the counters for the named flow, creating them on first
// use. The enabled flag only applies on creation; an existing flow keeps its
// current setting.
func (s *Statistics) ForFlow(flow string, enabled bool) *FlowStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fs, ok := s.flows[flow]; ok {
		return fs
	}

	fs := newFlowStatistics(flow, s)
	fs.SetEnabled(enabled)
	s.flows[flow] = fs
	return fs
}

// Snapshot returns a point-in-time view of every flow's counters.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := StatisticsSnapshot{
		Flows:       make(map[string]*FlowStatsSnapshot, len(s.flows)),
		CollectedAt: time.Now().UTC(),
	}

	for name, fs := range s.flows {
		flowSnap := fs.Snapshot()
		snapshot.Flows[name] = &flowSnap
		snapshot.TotalProcessed += flowSnap.EventsProcessed
		snapshot.TotalErrors += flowSnap.ExecutionErrors + flowSnap.FatalErrors
	}

	return snapshot
}

// Reset clears all counters (useful for testing).
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows = make(map[string]*FlowStatistics)
	s.processedTotal.Reset()
	s.consumedTotal.Reset()
	s.executionErrorsTotal.Reset()
	s.fatalErrorsTotal.Reset()
	s.recoveryRoutedTotal.Reset()
	s.processingSeconds.Reset()
}

// StatisticsSnapshot is a point-in-time view over all flows.
type StatisticsSnapshot struct {
	Flows          map[string]*FlowStatsSnapshot `json:"flows"`
	TotalProcessed uint64                        `json:"total_processed"`
	TotalErrors    uint64                        `json:"total_errors"`
	CollectedAt    time.Time                     `json:"collected_at"`
}

// FlowStatsSnapshot is a point-in-time copy of one flow's counters.
type FlowStatsSnapshot struct {
	Flow            string    `json:"flow"`
	Enabled         bool      `json:"enabled"`
	EventsProcessed uint64    `json:"events_processed"`
	EventsConsumed  uint64    `json:"events_consumed"`
	ExecutionErrors uint64    `json:"execution_errors"`
	FatalErrors     uint64    `json:"fatal_errors"`
	RecoveryRouted  uint64    `json:"recovery_routed"`
	LastFailure     string    `json:"last_failure,omitempty"`
	LastFailureAt   time.Time `json:"last_failure_at,omitempty"`
}

// FlowStatistics counts processing outcomes for one flow. All methods are
// safe for concurrent use, and incrementing is a no-op while the counters
// are disabled.
type FlowStatistics struct {
	flow    string
	parent  *Statistics
	enabled atomic.Bool

	mu              sync.Mutex
	eventsProcessed uint64
	eventsConsumed  uint64
	executionErrors uint64
	fatalErrors     uint64
	recoveryRouted  uint64
	lastFailure     string
	lastFailureAt   time.Time
}

// NewFlowStatistics creates standalone counters for a flow that is not run
// by an engine. Counters created this way feed no Prometheus collectors.
func NewFlowStatistics(flow string) *FlowStatistics {
	return newFlowStatistics(flow, nil)
}

func newFlowStatistics(flow string, parent *Statistics) *FlowStatistics {
	return &FlowStatistics{flow: flow, parent: parent}
}

// Flow returns the flow name these counters belong to.
func (f *FlowStatistics) Flow() string {
	return f.flow
}

// Enabled reports whether counting is active.
func (f *FlowStatistics) Enabled() bool {
	if f == nil {
		return false
	}
	return f.enabled.Load()
}

// SetEnabled toggles counting.
func (f *FlowStatistics) SetEnabled(enabled bool) {
	f.enabled.Store(enabled)
}

// IncProcessed records an event that completed the flow, together with the
// wall time it spent inside.
func (f *FlowStatistics) IncProcessed(elapsed time.Duration) {
	if !f.Enabled() {
		return
	}

	f.mu.Lock()
	f.eventsProcessed++
	f.mu.Unlock()

	if f.parent != nil {
		f.parent.processedTotal.WithLabelValues(f.flow).Inc()
		f.parent.processingSeconds.WithLabelValues(f.flow).Observe(elapsed.Seconds())
	}
}

// IncConsumed records an event consumed mid-flow without a final result.
func (f *FlowStatistics) IncConsumed() {
	if !f.Enabled() {
		return
	}

	f.mu.Lock()
	f.eventsConsumed++
	f.mu.Unlock()

	if f.parent != nil {
		f.parent.consumedTotal.WithLabelValues(f.flow).Inc()
	}
}

// IncExecutionError records a stage failure that reached a failure strategy.
func (f *FlowStatistics) IncExecutionError(cause error) {
	if !f.Enabled() {
		return
	}

	f.mu.Lock()
	f.executionErrors++
	if cause != nil {
		f.lastFailure = cause.Error()
		f.lastFailureAt = time.Now().UTC()
	}
	f.mu.Unlock()

	if f.parent != nil {
		f.parent.executionErrorsTotal.WithLabelValues(f.flow).Inc()
	}
}

// IncFatalError records a failure inside failure strategy execution itself.
func (f *FlowStatistics) IncFatalError() {
	if !f.Enabled() {
		return
	}

	f.mu.Lock()
	f.fatalErrors++
	f.mu.Unlock()

	if f.parent != nil {
		f.parent.fatalErrorsTotal.WithLabelValues(f.flow).Inc()
	}
}

// IncRecoveryRouted records an event routed through a recovery chain.
func (f *FlowStatistics) IncRecoveryRouted() {
	if !f.Enabled() {
		return
	}

	f.mu.Lock()
	f.recoveryRouted++
	f.mu.Unlock()

	if f.parent != nil {
		f.parent.recoveryRoutedTotal.WithLabelValues(f.flow).Inc()
	}
}

// Snapshot returns a copy of the current counter values.
func (f *FlowStatistics) Snapshot() FlowStatsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	return FlowStatsSnapshot{
		Flow:            f.flow,
		Enabled:         f.enabled.Load(),
		EventsProcessed: f.eventsProcessed,
		EventsConsumed:  f.eventsConsumed,
		ExecutionErrors: f.executionErrors,
		FatalErrors:     f.fatalErrors,
		RecoveryRouted:  f.recoveryRouted,
		LastFailure:     f.lastFailure,
		LastFailureAt:   f.lastFailureAt,
	}
}
