package engine

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/stageflow/internal/engine/config"
	errspkg "github.com/drblury/stageflow/internal/engine/errors"
	loggingpkg "github.com/drblury/stageflow/internal/engine/logging"
)

// EngineDependencies holds the optional collaborators that the Engine can use.
// Leave fields nil to fall back to the defaults.
type EngineDependencies struct {
	Sinks             []NotificationSink    // Appended after the default logger sink.
	DisableLoggerSink bool                  // Skips registering the logger sink when true.
	Registerer        prometheus.Registerer // Defaults to prometheus.DefaultRegisterer.
	ReplyPublisher    message.Publisher     // Default publisher for reply propagation.
}

// FlowRegistration describes one flow to register on the Engine.
type FlowRegistration struct {
	Name       string
	Stages     []Stage
	Strategies []*FailureStrategy

	// StatisticsEnabled overrides the engine-wide statistics setting for
	// this flow. Leave nil to inherit it.
	StatisticsEnabled *bool

	// ReplyPublisher overrides the engine-wide reply publisher.
	ReplyPublisher message.Publisher
}

// Engine hosts flows and wires them to a shared notification dispatcher,
// statistics registry, and the inspector and metrics HTTP endpoints.
type Engine struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	dispatcher *Dispatcher
	stats      *Statistics
	tracer     trace.Tracer

	replyPublisher message.Publisher

	flows   map[string]*Flow
	flowsMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	closed atomic.Bool
}

// NewEngine constructs an Engine for the supplied configuration. Register
// flows on the returned Engine before calling Start. NewEngine panics on an
// invalid configuration; TryNewEngine returns the error instead.
func NewEngine(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps EngineDependencies) *Engine {
	e, err := TryNewEngine(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return e
}

// TryNewEngine constructs an Engine for the supplied configuration.
func TryNewEngine(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps EngineDependencies) (*Engine, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	defaulted := conf.WithDefaults()

	log.Info("Creating flow engine",
		loggingpkg.LogFields{
			"service": defaulted.ServiceName,
			"config":  defaulted,
		})

	sinks := make([]NotificationSink, 0, len(deps.Sinks)+1)
	if !deps.DisableLoggerSink {
		sinks = append(sinks, NewLoggerSink(log))
	}
	sinks = append(sinks, deps.Sinks...)

	e := &Engine{
		Conf:           &defaulted,
		Logger:         log,
		dispatcher:     NewDispatcher(log, defaulted.NotificationBuffer, sinks...),
		stats:          NewStatistics(deps.Registerer),
		replyPublisher: deps.ReplyPublisher,
		flows:          make(map[string]*Flow),
	}

	if defaulted.TracingEnabled {
		e.tracer = otel.Tracer(defaulted.ServiceName)
	}

	if defaulted.MetricsEnabled {
		if err := e.stats.Register(); err != nil {
			e.dispatcher.Close()
			return nil, err
		}
		e.RegisterHTTPHandler(defaulted.MetricsPort, "/metrics", promhttp.Handler())
	}

	e.mountInspector()

	return e, nil
}

// RegisterFlow builds a flow from the registration and adds it to the Engine.
// Flow names are unique per Engine.
func (e *Engine) RegisterFlow(reg FlowRegistration) (*Flow, error) {
	if e.closed.Load() {
		return nil, errspkg.ErrEngineClosed
	}
	if reg.Name == "" {
		return nil, errspkg.ErrFlowNameRequired
	}

	statsEnabled := e.Conf.StatisticsEnabled
	if reg.StatisticsEnabled != nil {
		statsEnabled = *reg.StatisticsEnabled
	}

	replyPublisher := reg.ReplyPublisher
	if replyPublisher == nil {
		replyPublisher = e.replyPublisher
	}

	flow, err := NewFlow(FlowConfig{
		Name:           reg.Name,
		Stages:         reg.Stages,
		Strategies:     reg.Strategies,
		Logger:         e.Logger,
		Notifier:       e.dispatcher,
		Tracer:         e.tracer,
		Statistics:     e.stats.ForFlow(reg.Name, statsEnabled),
		ReplyPublisher: replyPublisher,
	})
	if err != nil {
		return nil, err
	}

	e.flowsMu.Lock()
	defer e.flowsMu.Unlock()

	if _, exists := e.flows[reg.Name]; exists {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrFlowAlreadyExists, reg.Name)
	}
	e.flows[reg.Name] = flow

	e.Logger.Info("Registered flow",
		loggingpkg.LogFields{
			"flow":       reg.Name,
			"stages":     flow.StageNames(),
			"strategies": flow.StrategyNames(),
		})

	return flow, nil
}

// Flow returns the registered flow with the given name.
func (e *Engine) Flow(name string) (*Flow, bool) {
	e.flowsMu.RLock()
	defer e.flowsMu.RUnlock()

	flow, ok := e.flows[name]
	return flow, ok
}

// FlowNames returns the names of all registered flows, sorted.
func (e *Engine) FlowNames() []string {
	e.flowsMu.RLock()
	defer e.flowsMu.RUnlock()

	names := make([]string, 0, len(e.flows))
	for name := range e.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process runs event through the named flow.
func (e *Engine) Process(ctx context.Context, flowName string, event *Event) (*Event, error) {
	if e.closed.Load() {
		return nil, errspkg.ErrEngineClosed
	}

	flow, ok := e.Flow(flowName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrFlowNotFound, flowName)
	}
	return flow.Process(ctx, event)
}

// Statistics returns the engine-wide statistics registry.
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// Notifier returns the engine's notification dispatcher.
func (e *Engine) Notifier() *Dispatcher {
	return e.dispatcher
}

// Start serves the registered HTTP endpoints and blocks until the context is
// cancelled, then closes the Engine.
func (e *Engine) Start(ctx context.Context) error {
	e.startHTTPServers()
	<-ctx.Done()
	e.Close()
	return ctx.Err()
}

// Close stops the notification dispatcher after draining queued
// notifications. Flows registered on the Engine stop accepting events.
// Safe to call more than once.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.dispatcher.Close()
	e.Logger.Info("Flow engine closed", nil)
}

// RegisterHTTPHandler mounts handler on the shared mux for the given port.
// All handlers for a port are served by one HTTP server started by Start.
func (e *Engine) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	e.httpServersMu.Lock()
	defer e.httpServersMu.Unlock()

	if e.httpServers == nil {
		e.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := e.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		e.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (e *Engine) startHTTPServers() {
	e.httpServersMu.Lock()
	defer e.httpServersMu.Unlock()

	for port, mux := range e.httpServers {
		addr := fmt.Sprintf(":%d", port)
		e.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				e.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
