package telemetry

import (
	"context"
	"time"
)

// Source returns the latest observation of a named sensor field.
type Source interface {
	Latest(ctx context.Context, field string) (Reading, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context, field string) (Reading, error)

func (f SourceFunc) Latest(ctx context.Context, field string) (Reading, error) {
	return f(ctx, field)
}

// Reading is one sensor observation. Raw holds the provider's full feed
// entry, not just the requested field.
type Reading struct {
	Field      string
	FieldValue string
	ObservedAt time.Time
	Raw        Payload
}
