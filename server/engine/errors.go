package engine

import "errors"

// Failure kinds the engine distinguishes. Classifier and capture failures
// are recovered locally and surfaced as events or degraded status; only
// configuration errors are fatal, and only at startup.
var (
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrClassifierTimeout     = errors.New("classifier timeout")
	ErrCaptureStartFailed    = errors.New("capture start failed")
	ErrCaptureStopFailed     = errors.New("capture stop failed")
	ErrInvalidConfiguration  = errors.New("invalid configuration")
)
