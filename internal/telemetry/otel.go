package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/streetpano/measuresync/internal/telemetry"

// OTel records reconciliation counters on the global meter provider
// (no-op if not configured).
type OTel struct {
	passes     metric.Int64Counter
	ops        metric.Int64Counter
	deferred   metric.Int64Counter
	echoes     metric.Int64Counter
	mismatches metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewOTel creates the instruments.
func NewOTel() (*OTel, error) {
	m := otel.Meter(instrumentationName)
	o := &OTel{}

	var err error
	if o.passes, err = m.Int64Counter("reconcile.passes",
		metric.WithDescription("Reconciliation passes completed")); err != nil {
		return nil, fmt.Errorf("creating passes counter: %w", err)
	}
	if o.ops, err = m.Int64Counter("reconcile.ops",
		metric.WithDescription("Edit script operations applied")); err != nil {
		return nil, fmt.Errorf("creating ops counter: %w", err)
	}
	if o.deferred, err = m.Int64Counter("reconcile.deferred",
		metric.WithDescription("Events deferred because a pass was in progress")); err != nil {
		return nil, fmt.Errorf("creating deferred counter: %w", err)
	}
	if o.echoes, err = m.Int64Counter("reconcile.echoes",
		metric.WithDescription("Echo events suppressed")); err != nil {
		return nil, fmt.Errorf("creating echoes counter: %w", err)
	}
	if o.mismatches, err = m.Int64Counter("reconcile.mismatches",
		metric.WithDescription("Measurements disposed on geometry kind mismatch")); err != nil {
		return nil, fmt.Errorf("creating mismatches counter: %w", err)
	}
	if o.duration, err = m.Float64Histogram("reconcile.duration",
		metric.WithDescription("Reconciliation pass duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return o, nil
}

func (o *OTel) Reconciled(ctx context.Context, s Stats) {
	dir := attribute.String("direction", string(s.Direction))
	o.passes.Add(ctx, 1, metric.WithAttributes(dir, attribute.String("kind", s.Kind.String()), attribute.Bool("pushed", s.Pushed)))
	for op, n := range map[string]int{"keep": s.Kept, "move": s.Moved, "insert": s.Inserted, "remove": s.Removed} {
		if n > 0 {
			o.ops.Add(ctx, int64(n), metric.WithAttributes(dir, attribute.String("op", op)))
		}
	}
	o.duration.Record(ctx, float64(s.Duration.Microseconds())/1000, metric.WithAttributes(dir))
}

func (o *OTel) Deferred(ctx context.Context, d Direction) {
	o.deferred.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", string(d))))
}

func (o *OTel) EchoSuppressed(ctx context.Context, d Direction) {
	o.echoes.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", string(d))))
}

func (o *OTel) StructuralMismatch(ctx context.Context) {
	o.mismatches.Add(ctx, 1)
}
