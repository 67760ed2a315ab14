package trace

import "time"

// NoopSpan is a Span that records nothing.
type NoopSpan struct {
	Ctx Context
}

func (s NoopSpan) Context() Context         { return s.Ctx }
func (NoopSpan) SetName(string)             {}
func (NoopSpan) Tag(string, string)         {}
func (NoopSpan) Annotate(string, time.Time) {}
func (NoopSpan) Finish()                    {}
