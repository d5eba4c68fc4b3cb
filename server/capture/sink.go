// Package capture turns confirmed violations into evidence artifacts.
// The recording trigger listens to the engine's event bus and drives a
// Sink; the reference sink writes an MJPEG file with a prebuffer so the
// artifact starts before the triggering frame.
package capture

import (
	"time"
)

// Handle identifies one in-progress capture
type Handle int64

// Artifact is a finished capture. The engine never inspects the bytes; it
// only hands the filename and path onward for download and persistence.
type Artifact struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Frames    int       `json:"frames"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// SinkError is an asynchronous capture failure (eg a write error midway
// through a recording). Non-fatal: the capture is marked degraded, and
// detection continues.
type SinkError struct {
	Handle Handle
	Err    error
}

// Sink is the capture device boundary. Implementations must tolerate
// Stop being called with a stale handle (returns an error, no panic).
type Sink interface {
	Start() (Handle, error)
	Stop(handle Handle) (*Artifact, error)
	Errors() <-chan SinkError
	Close()
}
