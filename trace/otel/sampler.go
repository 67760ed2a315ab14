package otel

import (
	"context"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type decision int

const (
	decisionSample decision = iota + 1
	decisionDrop
	decisionDeferred
)

type decisionKey struct{}

func withDecision(ctx context.Context, d decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// decisionSampler honours decisions forced by the caller (WithSampled, debug parents) and
// re-runs the ratio sampler for remote parents that carried no decision. Everything else
// follows the parent, or the ratio for roots.
type decisionSampler struct {
	ratio  sdktrace.Sampler
	parent sdktrace.Sampler
}

func newDecisionSampler(rate float64) decisionSampler {
	ratio := sdktrace.TraceIDRatioBased(rate)
	return decisionSampler{
		ratio:  ratio,
		parent: sdktrace.ParentBased(ratio),
	}
}

func (s decisionSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	d, _ := p.ParentContext.Value(decisionKey{}).(decision)
	switch d {
	case decisionSample:
		return s.result(p, sdktrace.RecordAndSample)
	case decisionDrop:
		return s.result(p, sdktrace.Drop)
	case decisionDeferred:
		return s.ratio.ShouldSample(p)
	}
	return s.parent.ShouldSample(p)
}

func (s decisionSampler) result(p sdktrace.SamplingParameters, d sdktrace.SamplingDecision) sdktrace.SamplingResult {
	return sdktrace.SamplingResult{
		Decision:   d,
		Tracestate: oteltrace.SpanContextFromContext(p.ParentContext).TraceState(),
	}
}

func (s decisionSampler) Description() string {
	return fmt.Sprintf("Decision{%s}", s.parent.Description())
}
