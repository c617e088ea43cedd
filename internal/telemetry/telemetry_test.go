package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	passes, deferred, echoes, mismatches int
}

func (c *countingRecorder) Reconciled(context.Context, Stats) { c.passes++ }
func (c *countingRecorder) Deferred(context.Context, Direction) { c.deferred++ }
func (c *countingRecorder) EchoSuppressed(context.Context, Direction) { c.echoes++ }
func (c *countingRecorder) StructuralMismatch(context.Context) { c.mismatches++ }

func TestMulti_FansOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	m := Multi{a, b, Nop{}}
	ctx := context.Background()

	m.Reconciled(ctx, Stats{Direction: FromRemote})
	m.Deferred(ctx, FromLocal)
	m.EchoSuppressed(ctx, FromLocal)
	m.StructuralMismatch(ctx)

	for _, r := range []*countingRecorder{a, b} {
		assert.Equal(t, 1, r.passes)
		assert.Equal(t, 1, r.deferred)
		assert.Equal(t, 1, r.echoes)
		assert.Equal(t, 1, r.mismatches)
	}
}

func TestNewOTel_NoopProvider(t *testing.T) {
	o, err := NewOTel()
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		o.Reconciled(ctx, Stats{Direction: FromLocal, Inserted: 2, Kept: 1})
		o.Deferred(ctx, FromRemote)
		o.EchoSuppressed(ctx, FromRemote)
		o.StructuralMismatch(ctx)
	})
}
