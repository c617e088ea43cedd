// Package telemetry records what the reconciliation engine does.
package telemetry

import (
	"context"
	"time"

	"github.com/streetpano/measuresync/pkg/core"
)

// Direction names which side a reconciliation pass was triggered from.
type Direction string

const (
	FromRemote Direction = "remote"
	FromLocal  Direction = "local"
)

// Stats summarises one reconciliation pass.
type Stats struct {
	Direction Direction
	Kind      core.GeometryKind
	Kept      int
	Moved     int
	Inserted  int
	Removed   int
	Pushed    bool
	Duration  time.Duration
}

// Recorder receives reconciliation outcomes.
type Recorder interface {
	Reconciled(ctx context.Context, s Stats)
	Deferred(ctx context.Context, d Direction)
	EchoSuppressed(ctx context.Context, d Direction)
	StructuralMismatch(ctx context.Context)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Reconciled(context.Context, Stats) {}
func (Nop) Deferred(context.Context, Direction) {}
func (Nop) EchoSuppressed(context.Context, Direction) {}
func (Nop) StructuralMismatch(context.Context) {}

// Multi fans out to several recorders.
type Multi []Recorder

func (m Multi) Reconciled(ctx context.Context, s Stats) {
	for _, r := range m {
		r.Reconciled(ctx, s)
	}
}

func (m Multi) Deferred(ctx context.Context, d Direction) {
	for _, r := range m {
		r.Deferred(ctx, d)
	}
}

func (m Multi) EchoSuppressed(ctx context.Context, d Direction) {
	for _, r := range m {
		r.EchoSuppressed(ctx, d)
	}
}

func (m Multi) StructuralMismatch(ctx context.Context) {
	for _, r := range m {
		r.StructuralMismatch(ctx)
	}
}
