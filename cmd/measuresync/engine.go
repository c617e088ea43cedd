package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/host"
	"github.com/streetpano/measuresync/internal/logging"
	"github.com/streetpano/measuresync/internal/registry"
	"github.com/streetpano/measuresync/internal/session"
	"github.com/streetpano/measuresync/internal/worker"
	"github.com/streetpano/measuresync/pkg/core"
)

// step is one line of a replay script. Exactly one of Edit, Features and
// Command is expected.
//
//	{"command":":MEASUREMENT:START:","args":["linestring","roads","7"]}
//	{"edit":"LINESTRING(0 0,10 0)"}
//	{"features":{"type":"FeatureCollection","features":[...]}}
type step struct {
	Command  string          `json:"command,omitempty"`
	Args     []string        `json:"args,omitempty"`
	Edit     string          `json:"edit,omitempty"`
	Points   string          `json:"points,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Features json.RawMessage `json:"features,omitempty"`
}

// engine wires an in-memory sketch to the worker through the dispatcher.
type engine struct {
	d       *dispatcher.Dispatcher
	manager *worker.Manager
	sketch  *host.MemorySketch
	log     *slog.Logger
}

func newEngine(ctx context.Context, d *dispatcher.Dispatcher, sketch *host.MemorySketch, sess *session.Context, deps registry.Dependencies, lm *logging.SlogManager) *engine {
	e := &engine{
		d:      d,
		sketch: sketch,
		log:    lm.Logger(),
		manager: worker.NewManager(ctx, worker.Dependencies{
			Session:    sess,
			Registry:   deps,
			LogManager: lm,
		}),
	}
	e.manager.RegisterHandlers(d)

	sketch.OnChange(func(ctx context.Context, ev core.SketchEvent) {
		if err := e.manager.QueueSketchChange(d, ev, core.TargetBinding{}); err != nil {
			e.log.Warn("Failed to queue sketch change", "origin", ev.Origin.String(), "error", err)
		}
	})
	return e
}

func (e *engine) dispatch(ev dispatcher.Event) {
	if _, err := e.d.Dispatch(ev); err != nil {
		e.log.Warn("Failed to dispatch event", "command", ev.Command, "error", err)
	}
}

// begin starts a session unless one is already running.
func (e *engine) begin(document string, mapSRS int) error {
	_, err := e.d.Dispatch(dispatcher.Event{
		Command: worker.CmdSessionBegin,
		Args:    []string{document, strconv.Itoa(mapSRS)},
	})
	return err
}

// apply runs one step.
func (e *engine) apply(ctx context.Context, s step) error {
	switch {
	case s.Edit != "":
		g, err := geom.UnmarshalWKT(s.Edit)
		if err != nil {
			return fmt.Errorf("failed to parse edit: %w", err)
		}
		e.sketch.Edit(ctx, g)
		return nil

	case s.Points != "":
		kind, err := core.ParseGeometryKind(s.Kind)
		if err != nil {
			return err
		}
		coords, err := geo.ParseCoordinateList(s.Points)
		if err != nil {
			return err
		}
		g, err := geo.FromCoordinates(kind, coords)
		if err != nil {
			return err
		}
		e.sketch.Edit(ctx, g)
		return nil

	case len(s.Features) > 0:
		_, err := e.d.Dispatch(dispatcher.Event{
			Command: worker.CmdRemoteFeatures,
			Args:    []string{string(s.Features)},
		})
		return err

	case s.Command != "":
		_, err := e.d.Dispatch(dispatcher.Event{Command: s.Command, Args: s.Args})
		return err

	default:
		return fmt.Errorf("empty step")
	}
}

// run applies every step read from r. Blank lines and lines starting with #
// are skipped.
func (e *engine) run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var s step
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := e.apply(ctx, s); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

// report writes the session state once the lane has drained.
func (e *engine) report(ctx context.Context, w io.Writer) error {
	sess := e.manager.Session()
	fmt.Fprintf(w, "document: %s\n", sess.Document())

	if list := sess.List(); list != nil {
		fmt.Fprintf(w, "measurements: %d\n", list.Len())
		for _, m := range list.All() {
			state := ""
			if m == list.Open() {
				state = " open"
			}
			fmt.Fprintf(w, "  %s%s kind=%s target=%s remote=%q points=%d\n",
				m.Key(), state, m.Kind(), m.Target(), m.RemoteID(), m.Len())
		}
	}

	g, err := e.sketch.Geometry(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "sketch: %s\n", g.AsText())
	return nil
}
