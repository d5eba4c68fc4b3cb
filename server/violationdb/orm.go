package violationdb

import (
	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Session is one proctoring session, from StartSession to StopSession
type Session struct {
	BaseModel
	ExternalID    string      `json:"externalID"` // Caller-supplied exam/candidate identifier
	StartedAt     dbh.IntTime `json:"startedAt"`
	EndedAt       dbh.IntTime `json:"endedAt,omitempty"`
	NumViolations int32       `json:"numViolations"`
}

// Violation is the persisted form of one engine interval. Written when the
// interval opens, updated while it extends, and finalized when it closes.
type Violation struct {
	BaseModel
	Session       int64                               `gorm:"index" json:"session"`
	IntervalID    int64                               `json:"intervalID"` // The engine's per-session interval ID
	Kind          string                              `json:"kind"`
	ViolationTime dbh.IntTime                         `json:"violationTime"`
	StartTime     dbh.IntTime                         `json:"startTime"`
	EndTime       dbh.IntTime                         `json:"endTime"`
	Score         *float32                            `json:"score,omitempty"`
	PeakScore     *float32                            `json:"peakScore,omitempty"`
	Ticks         int32                               `json:"ticks"`
	Closed        bool                                `json:"closed"`
	Detail        *dbh.JSONField[ViolationDetailJSON] `json:"detail,omitempty"`
}

// ViolationDetailJSON is the representative detection behind the violation
type ViolationDetailJSON struct {
	Label string   `json:"label,omitempty"`
	Box   *nn.Rect `json:"box,omitempty"`
}

// Artifact is a finished evidence capture
type Artifact struct {
	BaseModel
	Session   int64       `gorm:"index" json:"session"`
	Filename  string      `json:"filename"`
	Path      string      `json:"path"`
	Size      int64       `json:"size"`
	Frames    int32       `json:"frames"`
	StartedAt dbh.IntTime `json:"startedAt"`
	EndedAt   dbh.IntTime `json:"endedAt"`
}
