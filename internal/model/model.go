package model

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Measurement{},
}

// Measurement is a measurement written back to its target feature. There is
// one row per target.
type Measurement struct {
	gorm.Model
	Layer     string         `json:"layer" gorm:"size:127;uniqueIndex:idx_measurement_target"`
	FeatureID int64          `json:"featureId" gorm:"uniqueIndex:idx_measurement_target"`
	RemoteID  string         `json:"remoteId" gorm:"size:64;index:idx_measurement_remote_id"`
	Kind      string         `json:"kind" gorm:"size:16"`
	SRS       int            `json:"srs"`
	Shape     []byte         `json:"-"`                                     // WKB of the placed vertices
	Points    datatypes.JSON `json:"points" gorm:"type:jsonb;default:'[]'"` // per point coordinate and observations
}

func (*Measurement) TableName() string {
	return "measurements"
}

// Point is the JSON form of one measurement point inside Measurement.Points.
type Point struct {
	Coordinate   *Coordinate   `json:"coordinate,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
}

// Coordinate is a JSON vertex. Z is omitted for 2D vertices.
type Coordinate struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// Observation is the JSON form of one image observation.
type Observation struct {
	ImageID    string     `json:"imageId"`
	Coordinate Coordinate `json:"coordinate"`
	Direction  [3]float64 `json:"direction"`
	Thumbnail  string     `json:"thumbnail,omitempty"`
}
