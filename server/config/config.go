package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/azrihasin/proctoring/server/engine"
)

// CameraConfig is the frame acquisition boundary. The exam station's capture
// device is exposed as an HTTP endpoint that serves the most recent frame as
// a JPEG; we poll it rather than maintain a streaming session.
type CameraConfig struct {
	FrameURL       string `json:"frameURL"`       // eg http://127.0.0.1:8079/frame.jpg
	PollIntervalMS int    `json:"pollIntervalMS"` // How often we fetch a fresh frame
}

// DetectorsConfig points at the two out-of-process classifiers. Either URL
// may be empty, in which case the conditions depending on that detector are
// disabled and the engine runs degraded.
type DetectorsConfig struct {
	PresenceURL string `json:"presenceURL"` // Person/face detector
	ObjectURL   string `json:"objectURL"`   // General object detector
	TimeoutMS   int    `json:"timeoutMS"`   // Per-call HTTP timeout. The engine's tick budget still applies on top.
}

// CaptureConfig tunes evidence capture
type CaptureConfig struct {
	DurationSeconds int   `json:"durationSeconds"` // Automatic stop after this long, if the session doesn't end first
	PrebufferMB     int   `json:"prebufferMB"`     // Size of the ring that lets a capture start before its trigger
	SnapshotOnOpen  *bool `json:"snapshotOnOpen"`  // Write a JPEG of the triggering frame on each interval open. Default true.
}

func (c *CaptureConfig) SnapshotEnabled() bool {
	return c.SnapshotOnOpen == nil || *c.SnapshotOnOpen
}

// Config is the full configuration surface of the proctoring station.
// Everything has a default; a config file only needs the fields it wants to
// override.
type Config struct {
	HTTPAddr    string          `json:"httpAddr"`    // eg ":8077". We bind a LAN sidecar address, so there is no auth layer.
	DBPath      string          `json:"dbPath"`      // Sqlite violation database
	EvidenceDir string          `json:"evidenceDir"` // Where capture artifacts and snapshots land
	AutoStart   bool            `json:"autoStart"`   // Begin a session as soon as the server is up
	WebhookURL  string          `json:"webhookURL"`  // POST violation/capture events here. Empty disables the notifier.
	Camera      CameraConfig    `json:"camera"`
	Detectors   DetectorsConfig `json:"detectors"`
	Policy      engine.Policy   `json:"policy"`
	Capture     CaptureConfig   `json:"capture"`
}

// Default returns the configuration we ship with. Load unmarshals the user's
// file over this, so absent fields keep their defaults.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8077",
		DBPath:      "proctor.sqlite",
		EvidenceDir: "evidence",
		AutoStart:   true,
		Camera: CameraConfig{
			PollIntervalMS: 100,
		},
		Detectors: DetectorsConfig{
			TimeoutMS: 2000,
		},
		Policy: engine.DefaultPolicy(),
		Capture: CaptureConfig{
			DurationSeconds: 60,
			PrebufferMB:     32,
		},
	}
}

// Load reads filename over the defaults and validates the result.
// An empty filename returns the defaults as-is.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("Error loading config %v: %w", filename, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config %v: %w", filename, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast, before any goroutine starts
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: httpAddr is required", engine.ErrInvalidConfiguration)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: dbPath is required", engine.ErrInvalidConfiguration)
	}
	if c.EvidenceDir == "" {
		return fmt.Errorf("%w: evidenceDir is required", engine.ErrInvalidConfiguration)
	}
	if c.Camera.PollIntervalMS <= 0 {
		return fmt.Errorf("%w: camera.pollIntervalMS must be positive", engine.ErrInvalidConfiguration)
	}
	if c.Detectors.TimeoutMS <= 0 {
		return fmt.Errorf("%w: detectors.timeoutMS must be positive", engine.ErrInvalidConfiguration)
	}
	if c.Capture.DurationSeconds <= 0 {
		return fmt.Errorf("%w: capture.durationSeconds must be positive", engine.ErrInvalidConfiguration)
	}
	if c.Capture.PrebufferMB <= 0 {
		return fmt.Errorf("%w: capture.prebufferMB must be positive", engine.ErrInvalidConfiguration)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	// The evidence directory must be creatable now, not when the first
	// violation fires.
	if err := os.MkdirAll(c.EvidenceDir, 0770); err != nil {
		return fmt.Errorf("%w: evidenceDir '%v' is not creatable: %v", engine.ErrInvalidConfiguration, c.EvidenceDir, err)
	}
	return nil
}
