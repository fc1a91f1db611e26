package effects

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Dispatcher struct {
	classifier Classifier
	sink       Sink
}

type DispatcherOption func(*Dispatcher)

func WithTriggers(triggers []Trigger) DispatcherOption {
	return func(d *Dispatcher) {
		d.classifier = NewClassifier(triggers)
	}
}

// NewDispatcher accepts a nil sink, in which case effects are only
// classified.
func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{classifier: NewClassifier(DefaultTriggers), sink: sink}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch classifies text and notifies the sink once per matched tag.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) []Tag {
	tags := d.classifier.Classify(text)

	span := trace.SpanFromContext(ctx)
	for _, tag := range tags {
		span.AddEvent("effect triggered", trace.WithAttributes(attribute.String("effect.tag", string(tag))))
		logger.DebugContext(ctx, "effect triggered", slog.String("tag", string(tag)))
		if d.sink != nil {
			d.sink.HandleEffect(ctx, tag)
		}
	}
	return tags
}
