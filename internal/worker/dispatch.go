package worker

import (
	"errors"
	"fmt"
	"strconv"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/registry"
	"github.com/streetpano/measuresync/internal/remote"
	"github.com/streetpano/measuresync/pkg/core"
)

// Commands handled by the manager.
const (
	CmdSessionBegin      = ":SESSION:BEGIN:"
	CmdSessionEnd        = ":SESSION:END:"
	CmdRemoteFeatures    = ":REMOTE:FEATURES:"
	CmdSketchModified    = ":SKETCH:MODIFIED:"
	CmdSketchFinished    = ":SKETCH:FINISHED:"
	CmdMeasurementStart  = ":MEASUREMENT:START:"
	CmdMeasurementOpen   = ":MEASUREMENT:OPEN:TARGET:"
	CmdMeasurementRemove = ":MEASUREMENT:REMOVE:ALL:"
	SyncLane             = "sync"
	syncLaneSize         = 1000
)

// RegisterHandlers registers all event handlers with the dispatcher.
// Handlers must not dispatch to the sync lane and wait for the result.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	lane := []dispatcher.Option{
		dispatcher.Lane(SyncLane),
		dispatcher.Buffered(syncLaneSize),
		dispatcher.Blocking(),
		dispatcher.Logged(),
	}

	// Session scope
	d.Register(CmdSessionBegin, m.handleSessionBegin, lane...)
	d.Register(CmdSessionEnd, m.handleSessionEnd, lane...)

	// Viewer and sketch traffic
	d.Register(CmdRemoteFeatures, m.handleRemoteFeatures, lane...)
	d.Register(CmdSketchModified, m.handleSketchModified, lane...)
	d.Register(CmdSketchFinished, m.handleSketchFinished, lane...)

	// User commands
	d.Register(CmdMeasurementStart, m.handleMeasurementStart, lane...)
	d.Register(CmdMeasurementOpen, m.handleMeasurementOpen, lane...)
	d.Register(CmdMeasurementRemove, m.handleMeasurementRemove, lane...)
}

func (m *Manager) handleSessionBegin(e dispatcher.Event) (any, error) {
	if len(e.Args) != 2 {
		return nil, fmt.Errorf("%w: want document and map srs", ErrBadArgs)
	}
	srs, err := strconv.Atoi(e.Args[1])
	if err != nil {
		return nil, fmt.Errorf("%w: map srs %q: %v", ErrBadArgs, e.Args[1], err)
	}

	deps := m.deps.Registry
	deps.Measurement.Config.MapSRS = srs
	if deps.Measurement.LocalPending == nil {
		deps.Measurement.LocalPending = m.LocalEditsPending
	}
	m.deps.Session.Begin(m.ctx, e.Args[0], srs, deps)
	m.deps.LogManager.Logger().Info("Session started", "document", e.Args[0], "mapSRS", srs)
	return nil, nil
}

func (m *Manager) handleSessionEnd(e dispatcher.Event) (any, error) {
	if !m.deps.Session.Active() {
		return nil, nil
	}
	doc := m.deps.Session.Document()
	m.deps.Session.End(m.ctx)
	m.deps.LogManager.Logger().Info("Session ended", "document", doc)
	return nil, nil
}

func (m *Manager) handleRemoteFeatures(e dispatcher.Event) (any, error) {
	list, err := m.list()
	if err != nil {
		return nil, err
	}

	var fc core.FeatureCollection
	switch p := e.Payload.(type) {
	case core.FeatureCollection:
		fc = p
	case *core.FeatureCollection:
		fc = *p
	case nil:
		if len(e.Args) != 1 {
			return nil, fmt.Errorf("%w: want one GeoJSON document", ErrBadArgs)
		}
		fc, err = remote.Decode([]byte(e.Args[0]))
		if err != nil {
			return nil, fmt.Errorf("failed to decode feature collection: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected payload %T", ErrBadArgs, e.Payload)
	}

	if err := list.OnRemoteFeatureCollectionChanged(m.ctx, fc); err != nil {
		return nil, fmt.Errorf("failed to apply feature collection: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleSketchModified(e dispatcher.Event) (any, error) {
	if p, ok := e.Payload.(SketchChange); ok && p.counted {
		m.pendingEdits.Add(-1)
	}
	list, err := m.list()
	if err != nil {
		return nil, err
	}

	var change SketchChange
	switch p := e.Payload.(type) {
	case SketchChange:
		change = p
	case core.SketchEvent:
		change.Event = p
	case nil:
		if len(e.Args) == 0 {
			return nil, fmt.Errorf("%w: want sketch WKT", ErrBadArgs)
		}
		g, err := geom.UnmarshalWKT(e.Args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse sketch geometry: %w", err)
		}
		change.Event = core.SketchEvent{Geometry: g, Origin: core.OriginUser}
		if change.Target, err = parseTarget(e.Args[1:]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unexpected payload %T", ErrBadArgs, e.Payload)
	}

	if err := list.SketchModified(m.ctx, change.Event, change.Target); err != nil {
		return nil, fmt.Errorf("failed to apply sketch edit: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleSketchFinished(e dispatcher.Event) (any, error) {
	list, err := m.list()
	if err != nil {
		return nil, err
	}
	list.SketchFinished()
	return nil, nil
}

func (m *Manager) handleMeasurementStart(e dispatcher.Event) (any, error) {
	list, err := m.list()
	if err != nil {
		return nil, err
	}

	var req StartRequest
	switch p := e.Payload.(type) {
	case StartRequest:
		req = p
	case nil:
		if len(e.Args) == 0 {
			return nil, fmt.Errorf("%w: want geometry kind", ErrBadArgs)
		}
		if req.Kind, err = core.ParseGeometryKind(e.Args[0]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
		if req.Target, err = parseTarget(e.Args[1:]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unexpected payload %T", ErrBadArgs, e.Payload)
	}

	err = list.StartMeasurement(m.ctx, req.Kind, req.Target)
	if errors.Is(err, registry.ErrKindNotAllowed) {
		// the user just sees no measurement begin
		m.deps.LogManager.Logger().Debug("Measurement start ignored", "kind", req.Kind.String(), "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start measurement: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleMeasurementOpen(e dispatcher.Event) (any, error) {
	list, err := m.list()
	if err != nil {
		return nil, err
	}

	target, ok := e.Payload.(core.TargetBinding)
	if !ok {
		if target, err = parseTarget(e.Args); err != nil {
			return nil, err
		}
	}
	if target.IsZero() {
		return nil, fmt.Errorf("%w: no target", ErrBadArgs)
	}

	meas, err := list.OpenTarget(m.ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target, err)
	}
	return meas.Key(), nil
}

func (m *Manager) handleMeasurementRemove(e dispatcher.Event) (any, error) {
	list, err := m.list()
	if err != nil {
		return nil, err
	}
	list.RemoveAllMeasurements(m.ctx)
	return nil, nil
}
