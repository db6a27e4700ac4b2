// Package metadata holds the string headers carried alongside an event
// payload through a flow.
package metadata

// Well-known header keys consumed by the engine itself. Everything else is
// application-defined and travels untouched.
const (
	// KeyReplyTo names the topic a caller expects the final event on.
	KeyReplyTo = "stageflow_reply_to"
	// KeyCorrelationID groups events belonging to one logical exchange.
	KeyCorrelationID = "stageflow_correlation_id"
	// KeyFlow records the flow a notification or reply originated from.
	KeyFlow = "stageflow_flow"
)

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a copy of the metadata map. The engine clones headers
// whenever an event is forked so sibling branches cannot see each other's
// mutations.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Get returns the value for key, or "" when the map is nil or the key is
// absent. Safe on a nil receiver.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// ReplyTo returns the reply topic header, if any.
func (m Metadata) ReplyTo() string {
	return m.Get(KeyReplyTo)
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
