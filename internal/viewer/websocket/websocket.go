// Package websocket implements viewer.Viewer over a WebSocket connection to
// the panoramic viewer.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streetpano/measuresync/internal/remote"
	"github.com/streetpano/measuresync/internal/viewer"
	"github.com/streetpano/measuresync/pkg/core"
)

var _ viewer.Viewer = (*Client)(nil)

// Config holds viewer connection configuration.
type Config struct {
	URL        string
	Secret     string
	SRS        int           // SRS of openImage positions
	AckTimeout time.Duration // wait for startMeasurementMode acks, 0 disables
}

// Client talks to the viewer. Outbound calls never block on the network;
// inbound feature collections are handed to the registered handler on the
// read goroutine.
type Client struct {
	conn *connection
	cfg  Config
	log  *slog.Logger

	mu       sync.Mutex
	handlers []func(core.FeatureCollection)
}

// New creates a client. Call Init to connect.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{cfg: cfg, log: logger}
	c.conn = newConnection(logger, c.handleInbound)
	return c
}

// Init connects to the viewer.
func (c *Client) Init() error {
	return c.conn.dial(c.cfg.URL, c.cfg.Secret)
}

// Close disconnects from the viewer.
func (c *Client) Close() error {
	return c.conn.close()
}

// Reconnects returns how many times the connection was re-established.
func (c *Client) Reconnects() int {
	return c.conn.reconnects.Value()
}

// OnFeatureCollection registers a handler for featureCollectionChanged events.
func (c *Client) OnFeatureCollection(h func(core.FeatureCollection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) handleInbound(env Envelope) {
	if env.Type != TypeFeatureCollectionChanged {
		c.log.Debug("Ignoring viewer message", "type", env.Type)
		return
	}
	fc, err := remote.Decode(env.Payload)
	if err != nil {
		c.log.Warn("Failed to decode feature collection", "error", err)
		return
	}

	c.mu.Lock()
	handlers := append([]func(core.FeatureCollection){}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(fc)
	}
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		env.Payload = p
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (c *Client) sendEnvelope(msgType string, payload any) ([]byte, error) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	return data, c.conn.send(data)
}

// SetActiveMeasurement pushes fc as GeoJSON. The last push is replayed after
// a reconnect.
func (c *Client) SetActiveMeasurement(ctx context.Context, fc core.FeatureCollection) error {
	payload, err := remote.Encode(fc)
	if err != nil {
		return fmt.Errorf("encode feature collection: %w", err)
	}
	data, err := c.sendEnvelope(TypeSetActiveMeasurement, json.RawMessage(payload))
	if data != nil {
		c.conn.remember(data)
	}
	return err
}

// StartMeasurementMode asks the viewer to start creating a measurement and,
// with an ack timeout configured, waits for the viewer to confirm.
func (c *Client) StartMeasurementMode(ctx context.Context, kind core.GeometryKind) error {
	payload := StartMeasurementModePayload{Kind: kind.String()}
	if c.cfg.AckTimeout <= 0 {
		_, err := c.sendEnvelope(TypeStartMeasurementMode, payload)
		return err
	}
	data, err := marshalEnvelope(TypeStartMeasurementMode, payload)
	if err != nil {
		return err
	}
	return c.conn.sendAndWait(data, TypeStartMeasurementMode, c.cfg.AckTimeout)
}

// StopMeasurementMode leaves the viewer's creation mode.
func (c *Client) StopMeasurementMode(ctx context.Context) error {
	_, err := c.sendEnvelope(TypeStopMeasurementMode, nil)
	return err
}

// OpenImage asks the viewer to show imageID looking at at.
func (c *Client) OpenImage(ctx context.Context, imageID string, at core.Coordinate) error {
	_, err := c.sendEnvelope(TypeOpenImage, OpenImagePayload{
		ImageID: imageID,
		At:      [3]float64{at.X, at.Y, at.Z},
		SRS:     c.cfg.SRS,
	})
	return err
}
