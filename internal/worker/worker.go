package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/logging"
	"github.com/streetpano/measuresync/internal/registry"
	"github.com/streetpano/measuresync/internal/session"
	"github.com/streetpano/measuresync/pkg/core"
)

// ErrNoSession is returned when a measurement command arrives before a document session began
var ErrNoSession = errors.New("no document session")

// ErrBadArgs is returned when command arguments cannot be parsed
var ErrBadArgs = errors.New("bad command arguments")

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Session    *session.Context
	Registry   registry.Dependencies
	LogManager *logging.SlogManager
}

// Manager turns dispatcher events into registry calls. Every handler runs on
// the sync lane, so the registry only ever sees one event at a time.
type Manager struct {
	deps Dependencies
	ctx  context.Context

	// user sketch edits queued on the lane and not handled yet
	pendingEdits atomic.Int64
}

// NewManager creates a new worker manager. ctx is passed to every registry
// call made from the lane.
func NewManager(ctx context.Context, deps Dependencies) *Manager {
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Manager{deps: deps, ctx: ctx}
}

// Session returns the session context driven by the manager.
func (m *Manager) Session() *session.Context {
	return m.deps.Session
}

func (m *Manager) list() (*registry.List, error) {
	l := m.deps.Session.List()
	if l == nil {
		return nil, ErrNoSession
	}
	return l, nil
}

// SketchChange is the payload of a sketch-modified event.
type SketchChange struct {
	Event  core.SketchEvent
	Target core.TargetBinding

	counted bool
}

// QueueSketchChange puts a host sketch event on the sync lane. User edits
// are counted until their handler runs, so a viewer update handled first
// takes the edit from the sketch instead of overwriting it. Echoes of our
// own sketch writes are fired from the lane itself and never wait for room
// on it.
func (m *Manager) QueueSketchChange(d *dispatcher.Dispatcher, ev core.SketchEvent, target core.TargetBinding) error {
	change := SketchChange{Event: ev, Target: target}
	e := dispatcher.Event{Command: CmdSketchModified}
	if ev.Origin == core.OriginRemote {
		e.NoWait = true
	} else {
		change.counted = true
		m.pendingEdits.Add(1)
	}
	e.Payload = change

	if _, err := d.Dispatch(e); err != nil {
		if change.counted {
			m.pendingEdits.Add(-1)
		}
		return err
	}
	return nil
}

// LocalEditsPending reports whether user sketch edits wait on the lane.
func (m *Manager) LocalEditsPending() bool {
	return m.pendingEdits.Load() > 0
}

// StartRequest is the payload of a start-measurement event.
type StartRequest struct {
	Kind   core.GeometryKind
	Target core.TargetBinding
}

// parseTarget reads an optional "layer featureID" argument pair.
func parseTarget(args []string) (core.TargetBinding, error) {
	switch len(args) {
	case 0:
		return core.TargetBinding{}, nil
	case 2:
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return core.TargetBinding{}, fmt.Errorf("%w: feature id %q: %v", ErrBadArgs, args[1], err)
		}
		return core.TargetBinding{Layer: args[0], FeatureID: id}, nil
	default:
		return core.TargetBinding{}, fmt.Errorf("%w: want layer and feature id, got %d values", ErrBadArgs, len(args))
	}
}
