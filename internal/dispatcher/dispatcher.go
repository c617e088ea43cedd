package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrQueueFull is returned when a buffered event is dropped.
var ErrQueueFull = errors.New("queue full")

// Event represents an incoming command from the viewer, the host or the CLI.
type Event struct {
	Command   string
	Args      []string
	Payload   any
	Timestamp time.Time
	// NoWait drops the event when its queue is full, even on a Blocking
	// handler. Handlers that dispatch onto their own lane set it.
	NoWait bool
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
	lane       string
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Lane makes the handler share one queue and one consumer goroutine with
// every other handler on the same lane, so their events run one at a time in
// dispatch order. The first registration on a lane fixes its buffer size.
func Lane(name string) Option {
	return func(c *config) {
		c.lane = name
	}
}

type job struct {
	e Event
	h HandlerFunc
}

type queue struct {
	ch   chan job
	name string
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	// Track buffers for gauge callback
	mu      sync.RWMutex
	buffers map[string]*queue
	wg      sync.WaitGroup
	closed  bool
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]*queue),
		logger:   logger,
	}

	// Get meter from global OTel provider (returns no-op if not configured)
	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for name, q := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(q.ch)),
					metric.WithAttributes(attribute.String("queue", name)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(command, handler)
	}

	if cfg.lane != "" {
		if cfg.bufferSize <= 0 {
			cfg.bufferSize = 1
		}
		handler = d.withBuffer(cfg.lane, command, cfg.bufferSize, cfg.blocking, handler)
	} else if cfg.bufferSize > 0 {
		handler = d.withBuffer(command, command, cfg.bufferSize, cfg.blocking, handler)
	}

	d.handlers[command] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[e.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	_, ok := d.handlers[command]
	return ok
}

// QueueLen returns the number of events waiting on the named lane or buffered
// command queue.
func (d *Dispatcher) QueueLen(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if q, ok := d.buffers[name]; ok {
		return len(q.ch)
	}
	return 0
}

// Close stops accepting buffered events and waits until every queued event
// has been handled. Dispatching a buffered command afterwards returns an error.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.buffers {
		close(q.ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// queueFor returns the queue called name, starting its consumer on first use.
func (d *Dispatcher) queueFor(name string, size int) *queue {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.buffers[name]; ok {
		return q
	}
	q := &queue{ch: make(chan job, size), name: name}
	d.buffers[name] = q

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for j := range q.ch {
			if _, err := j.h(j.e); err != nil {
				d.logger.Error("queued event failed", "command", j.e.Command, "error", err)
			}
			d.processed.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("command", j.e.Command)))
		}
	}()
	return q
}

func (d *Dispatcher) withBuffer(name, command string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	q := d.queueFor(name, size)
	cmdAttr := attribute.String("command", command)

	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, fmt.Errorf("dispatcher closed: %s", command)
		}

		if blocking && !e.NoWait {
			q.ch <- job{e: e, h: h}
			return "queued", nil
		}
		select {
		case q.ch <- job{e: e, h: h}:
			return "queued", nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(cmdAttr))
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, command)
		}
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "args", len(e.Args))

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
