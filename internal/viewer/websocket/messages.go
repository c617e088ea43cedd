package websocket

import (
	"encoding/json"
)

// Message types of the viewer protocol.
const (
	TypeSetActiveMeasurement     = "setActiveMeasurement"
	TypeStartMeasurementMode     = "startMeasurementMode"
	TypeStopMeasurementMode      = "stopMeasurementMode"
	TypeOpenImage                = "openImage"
	TypeFeatureCollectionChanged = "featureCollectionChanged"
	TypeAck                      = "ack"
)

// Envelope wraps all messages sent over the WebSocket. Payloads of
// setActiveMeasurement and featureCollectionChanged are GeoJSON
// FeatureCollections.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the viewer's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartMeasurementModePayload asks the viewer to start creating a measurement.
type StartMeasurementModePayload struct {
	Kind string `json:"kind"`
}

// OpenImagePayload asks the viewer to show an image looking at a position.
type OpenImagePayload struct {
	ImageID string     `json:"imageId"`
	At      [3]float64 `json:"at"`
	SRS     int        `json:"srs,omitempty"`
}
