package stages

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stageflow"
)

// Spec carries the inputs a stage builder reads. Builders ignore fields they
// do not need.
type Spec struct {
	// Name labels the built stage instance. Builders fall back to their kind
	// name when empty.
	Name string

	// Params holds builder-specific settings, such as a filter schema or a
	// dispatch topic.
	Params map[string]any

	// Publisher is handed to broker-facing builders.
	Publisher message.Publisher
}

// StringParam returns the named parameter as a string.
func (s Spec) StringParam(key string) (string, bool) {
	v, ok := s.Params[key].(string)
	return v, ok
}

// Builder constructs a stage from a spec. Each registrable stage kind
// provides one.
type Builder func(spec Spec) (stageflow.Stage, error)

// Registry maps stage kind names to builders and their response traits, so a
// configuration layer can assemble chains from validated names. Traits
// registered for a kind are declared on every stage it builds.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
	traits   map[string]stageflow.ResponseTraits
}

// DefaultRegistry is the global stage registry. The bundled kinds "filter",
// "dispatch" and "reply" are registered on it at init.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		traits:   make(map[string]stageflow.ResponseTraits),
	}
}

// Register adds a stage builder under kind. Stages built for the kind keep
// whatever traits they declare themselves.
func (r *Registry) Register(kind string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
}

// RegisterWithTraits adds a stage builder under kind and pins the response
// traits declared on every stage it builds.
func (r *Registry) RegisterWithTraits(kind string, builder Builder, traits stageflow.ResponseTraits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
	r.traits[kind] = traits
}

// Traits returns the response traits registered for kind. Unknown kinds get
// the zero traits.
func (r *Registry) Traits(kind string) stageflow.ResponseTraits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.traits[kind]
}

// Build constructs a stage of the given kind. When traits are registered for
// the kind they are declared on the result, overriding the stage's own.
func (r *Registry) Build(kind string, spec Spec) (stageflow.Stage, error) {
	r.mu.RLock()
	builder, ok := r.builders[kind]
	traits, hasTraits := r.traits[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown stage kind: %q (registered: %v)", kind, r.Kinds())
	}

	stage, err := builder(spec)
	if err != nil {
		return nil, fmt.Errorf("build %q: %w", kind, err)
	}

	if hasTraits {
		return stageflow.DeclareTraits(stage, traits), nil
	}
	return stage, nil
}

// Kinds returns the registered stage kind names.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.builders))
	for kind := range r.builders {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Has reports whether a builder is registered under kind.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[kind]
	return ok
}

// Register adds a stage builder to the default registry.
func Register(kind string, builder Builder) {
	DefaultRegistry.Register(kind, builder)
}

// RegisterWithTraits adds a stage builder and its traits to the default
// registry.
func RegisterWithTraits(kind string, builder Builder, traits stageflow.ResponseTraits) {
	DefaultRegistry.RegisterWithTraits(kind, builder, traits)
}

// Build constructs a stage using the default registry.
func Build(kind string, spec Spec) (stageflow.Stage, error) {
	return DefaultRegistry.Build(kind, spec)
}

func init() {
	RegisterWithTraits("filter", buildFilter, stageflow.ResponseTraits{MayReturnNil: true})
	RegisterWithTraits("dispatch", buildDispatch, stageflow.ResponseTraits{MayReturnNil: true})
	RegisterWithTraits("reply", buildReply, stageflow.ResponseTraits{ReplyType: true})
}

func buildFilter(spec Spec) (stageflow.Stage, error) {
	schema, ok := spec.StringParam("schema")
	if !ok {
		return nil, fmt.Errorf("filter: string parameter %q is required", "schema")
	}

	p, err := stageflow.PayloadSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	name := spec.Name
	if name == "" {
		name = "filter"
	}
	return Filter(name, p), nil
}

func buildDispatch(spec Spec) (stageflow.Stage, error) {
	topic, ok := spec.StringParam("topic")
	if !ok {
		return nil, fmt.Errorf("dispatch: string parameter %q is required", "topic")
	}
	if spec.Publisher == nil {
		return nil, stageflow.ErrPublisherRequired
	}
	return Dispatch(topic, spec.Publisher), nil
}

func buildReply(spec Spec) (stageflow.Stage, error) {
	if spec.Publisher == nil {
		return nil, stageflow.ErrPublisherRequired
	}
	return ReplyRelay(spec.Publisher), nil
}
