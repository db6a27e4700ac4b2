// Package stageflow is a pipeline runtime for event-driven integration code.
// Applications describe named flows as ordered stages over an opaque event,
// register them with an Engine, and submit events for processing. The engine
// runs each event through the flow's chain, fans stage and failure
// notifications out to pluggable sinks, counts outcomes per flow, and
// guarantees that every failure ends in exactly one failure strategy rather
// than an escaped error.
//
// A minimal setup fills Config, creates an Engine, registers a flow and
// processes events; examples/simple shows the complete wiring.
//
// # Stages and chains
//
// A Stage transforms, replaces or consumes the event it is given. Stages that
// may legitimately return no event, such as a fire-and-forget dispatch to a
// broker or a filter dropping non-matching payloads, declare the
// MayReturnNil response trait; reply relays declare ReplyType. Traits are
// resolved once when a chain is built. Flows host their chain branching:
// when an interior consuming stage swallows the event, the remaining stages
// continue on a snapshot taken beforehand. Prebuilt stages live in the
// stages subpackage.
//
// # Failure strategies
//
// Each flow carries an ordered list of failure strategies; the first one
// accepting a failing event handles it. A strategy routes the event through
// its recovery stages, optionally absorbs the failure so callers see
// success, and relays replies. Strategy execution is total: whatever fails
// inside it, including its own hooks, the caller gets an event back, never a
// second error.
//
// # Notifications and statistics
//
// Before and after every stage invocation, and on every failure, the engine
// emits a notification through an asynchronous dispatcher. Sinks never block
// event processing; the bundled PublisherSink forwards notifications to any
// Watermill publisher. Per-flow statistics are exported as Prometheus
// counters and served on the metrics port, and a small JSON inspector API
// lists registered flows and their counters.
//
// # Transports
//
// The transport subpackages build Watermill publishers and subscribers for
// Kafka, RabbitMQ, AWS SNS/SQS, NATS (core and JetStream), HTTP, files and
// in-memory Go channels. The engine itself never connects to a broker;
// transports supply the publishers that notification sinks, dispatch stages
// and reply relays consume.
package stageflow
