package trace

import (
	"time"
)

// Kind represents the role of a span in a trace.
type Kind string

const (
	KindUnspecified Kind = ""
	KindServer      Kind = "SERVER"
	KindClient      Kind = "CLIENT"
	KindProducer    Kind = "PRODUCER"
	KindConsumer    Kind = "CONSUMER"
)

// Span is a single timed unit of work. Spans are owned by the Tracer that created them;
// callers only borrow them between creation and Finish.
type Span interface {
	// Context returns the span's identity.
	Context() Context
	// SetName renames the span.
	SetName(name string)
	// Tag adds or replaces a string tag.
	Tag(key, value string)
	// Annotate records a timestamped event. A zero ts means now.
	Annotate(value string, ts time.Time)
	// Finish ends the span and hands it to the reporter. Only the first call has effect.
	Finish()
}
