package stageflow

import (
	enginepkg "github.com/drblury/stageflow/internal/engine"
	configpkg "github.com/drblury/stageflow/internal/engine/config"
	errspkg "github.com/drblury/stageflow/internal/engine/errors"
	idspkg "github.com/drblury/stageflow/internal/engine/ids"
	jsoncodec "github.com/drblury/stageflow/internal/engine/jsoncodec"
	loggingpkg "github.com/drblury/stageflow/internal/engine/logging"
	metadatapkg "github.com/drblury/stageflow/internal/engine/metadata"
	predicatepkg "github.com/drblury/stageflow/internal/engine/predicate"
	transportpkg "github.com/drblury/stageflow/transport"
)

type (
	Config             = configpkg.Config
	Engine             = enginepkg.Engine
	EngineDependencies = enginepkg.EngineDependencies
	FlowRegistration   = enginepkg.FlowRegistration
	Flow               = enginepkg.Flow
	FlowConfig         = enginepkg.FlowConfig

	Event         = enginepkg.Event
	FailureRecord = enginepkg.FailureRecord
	Completion    = enginepkg.Completion
	PayloadCloner = enginepkg.PayloadCloner

	Stage          = enginepkg.Stage
	StageFunc      = enginepkg.StageFunc
	ResponseTraits = enginepkg.ResponseTraits
	TraitsProvider = enginepkg.TraitsProvider
	Namer          = enginepkg.Namer
	Hosting        = enginepkg.Hosting
	Chain          = enginepkg.Chain
	ChainConfig    = enginepkg.ChainConfig

	MessagingError        = enginepkg.MessagingError
	FailureStrategy       = enginepkg.FailureStrategy
	FailureStrategyConfig = enginepkg.FailureStrategyConfig
	RoutingHook           = enginepkg.RoutingHook
	HandlerChain          = enginepkg.HandlerChain

	// Notification fan-out
	StagePhase          = enginepkg.StagePhase
	StageNotification   = enginepkg.StageNotification
	FailureNotification = enginepkg.FailureNotification
	NotificationSink    = enginepkg.NotificationSink
	SinkFuncs           = enginepkg.SinkFuncs
	Dispatcher          = enginepkg.Dispatcher
	PublisherSink       = enginepkg.PublisherSink
	LoggerSink          = enginepkg.LoggerSink

	// Per-flow counters
	Statistics         = enginepkg.Statistics
	FlowStatistics     = enginepkg.FlowStatistics
	StatisticsSnapshot = enginepkg.StatisticsSnapshot
	FlowStatsSnapshot  = enginepkg.FlowStatsSnapshot

	// Context-scoped transaction rolled back on the total failure path
	Transaction = enginepkg.Transaction

	Metadata  = metadatapkg.Metadata
	Predicate = predicatepkg.Predicate

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Broker wiring
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewEngine      = enginepkg.NewEngine
	TryNewEngine   = enginepkg.TryNewEngine
	ValidateConfig = configpkg.ValidateConfig

	NewEvent          = enginepkg.NewEvent
	NewEventWithID    = enginepkg.NewEventWithID
	NewMessagingError = enginepkg.NewMessagingError

	NewChain           = enginepkg.NewChain
	NewFlow            = enginepkg.NewFlow
	NewFailureStrategy = enginepkg.NewFailureStrategy
	NewHandlerChain    = enginepkg.NewHandlerChain
	DeclareTraits      = enginepkg.DeclareTraits

	// Strategy acceptance matchers
	MatchPayload  = enginepkg.MatchPayload
	MatchMetadata = enginepkg.MatchMetadata
	MatchErrorIs  = enginepkg.MatchErrorIs

	// Payload predicates feeding MatchPayload
	PredicateAlways = predicatepkg.Always
	PredicateNever  = predicatepkg.Never
	PredicateNot    = predicatepkg.Not
	PredicateAnd    = predicatepkg.And
	PredicateOr     = predicatepkg.Or
	PayloadSchema   = predicatepkg.JSONSchema

	// Notification fan-out
	NewDispatcher    = enginepkg.NewDispatcher
	NewLoggerSink    = enginepkg.NewLoggerSink
	NewPublisherSink = enginepkg.NewPublisherSink

	NewStatistics     = enginepkg.NewStatistics
	NewFlowStatistics = enginepkg.NewFlowStatistics

	WithTransaction        = enginepkg.WithTransaction
	TransactionFromContext = enginepkg.TransactionFromContext

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrFlowNameRequired   = errspkg.ErrFlowNameRequired
	ErrFlowAlreadyExists  = errspkg.ErrFlowAlreadyExists
	ErrFlowNotFound       = errspkg.ErrFlowNotFound
	ErrStageRequired      = errspkg.ErrStageRequired
	ErrStrategyRequired   = errspkg.ErrStrategyRequired
	ErrCatchAllNotLast    = errspkg.ErrCatchAllNotLast
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrNoStrategyAccepted = errspkg.ErrNoStrategyAccepted
	ErrEngineClosed       = errspkg.ErrEngineClosed

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	NewMetadata           = metadatapkg.New
	MetadataFromWatermill = metadatapkg.FromWatermill
	MetadataToWatermill   = metadatapkg.ToWatermill

	// NewEventID generates a time-sortable unique event ID using ULID.
	NewEventID = idspkg.NewEventID

	// Broker wiring
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	NewTransportRegistry     = transportpkg.NewRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetTransportCapabilities = transportpkg.GetCapabilities
)

// Hosting kinds for chains built directly. Flows always host branching.
const (
	HostingLinear    = enginepkg.HostingLinear
	HostingBranching = enginepkg.HostingBranching
)

// Stage notification phases.
const (
	PhaseBefore = enginepkg.PhaseBefore
	PhaseAfter  = enginepkg.PhaseAfter
)

// Metadata keys the engine itself consumes - use these constants for the
// standard headers.
const (
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyFlow          = metadatapkg.KeyFlow
)
