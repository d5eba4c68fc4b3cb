package capture

import (
	"sync"
	"time"

	"github.com/azrihasin/proctoring/server/engine"
	"github.com/cyclopcam/logs"
)

// How often the trigger thread wakes to check the capture deadline
const defaultCheckInterval = time.Second

// TriggerOptions is the tunable part of the recording policy. Hot-swappable
// via SetOptions; a change applies to the next capture.
type TriggerOptions struct {
	Duration       time.Duration // Automatic stop this long after the capture starts
	SnapshotOnOpen bool          // Also write a review JPEG of the triggering frame on every interval open
	SnapshotDir    string
}

// TriggerStatus is a snapshot of the trigger's state, for /api/status
type TriggerStatus struct {
	Capturing        bool       `json:"capturing"`
	CaptureStartedAt *time.Time `json:"captureStartedAt,omitempty"`
	Degraded         bool       `json:"degraded"`
	LastError        string     `json:"lastError,omitempty"`
	NumCaptures      int64      `json:"numCaptures"`
	NumFailures      int64      `json:"numFailures"`
}

// Trigger is the recording policy: the first interval open while no capture
// is in progress starts one, a deadline or session end stops it. It runs on
// its own goroutine, fed by the engine's event bus, so a slow or failing
// sink never stalls the tick loop. Capture failures are published back onto
// the bus as non-fatal events and the engine degrades to detection-only.
type Trigger struct {
	ShutdownComplete chan bool // Closed when the trigger thread has exited

	log    logs.Log
	engine *engine.Engine
	sink   Sink
	source engine.FrameSource // For the snapshot of the triggering frame

	optsLock sync.Mutex
	opts     TriggerOptions

	// Owned by the trigger thread
	handle    Handle
	capturing bool
	startedAt time.Time
	deadline  time.Time

	statusLock   sync.Mutex
	status       TriggerStatus
	lastArtifact *Artifact
	shutdown     chan bool
	checkPeriod  time.Duration
}

func NewTrigger(log logs.Log, eng *engine.Engine, sink Sink, source engine.FrameSource, opts TriggerOptions) *Trigger {
	return newTrigger(log, eng, sink, source, opts, defaultCheckInterval)
}

func newTrigger(log logs.Log, eng *engine.Engine, sink Sink, source engine.FrameSource, opts TriggerOptions, checkPeriod time.Duration) *Trigger {
	t := &Trigger{
		ShutdownComplete: make(chan bool),
		log:              logs.NewPrefixLogger(log, "Capture:"),
		engine:           eng,
		sink:             sink,
		source:           source,
		opts:             opts,
		shutdown:         make(chan bool),
		checkPeriod:      checkPeriod,
	}
	go t.run()
	return t
}

// SetOptions swaps the recording policy (config hot reload)
func (t *Trigger) SetOptions(opts TriggerOptions) {
	t.optsLock.Lock()
	t.opts = opts
	t.optsLock.Unlock()
}

func (t *Trigger) options() TriggerOptions {
	t.optsLock.Lock()
	defer t.optsLock.Unlock()
	return t.opts
}

func (t *Trigger) Status() TriggerStatus {
	t.statusLock.Lock()
	defer t.statusLock.Unlock()
	return t.status
}

// LastArtifact returns the most recently finished capture, or nil.
// Set before the captureStopped event is published, so an event subscriber
// reading it sees the artifact that the event announced.
func (t *Trigger) LastArtifact() *Artifact {
	t.statusLock.Lock()
	defer t.statusLock.Unlock()
	return t.lastArtifact
}

func (t *Trigger) Close() {
	close(t.shutdown)
	<-t.ShutdownComplete
}

func (t *Trigger) run() {
	t.log.Infof("Recording trigger thread starting")
	events := t.engine.AddEventWatcher()
	ticker := time.NewTicker(t.checkPeriod)

	keepRunning := true
	for keepRunning {
		select {
		case <-t.shutdown:
			keepRunning = false
		case ev := <-events:
			t.processEvent(ev)
		case <-ticker.C:
			t.checkDeadline()
		case sinkErr := <-t.sink.Errors():
			t.log.Errorf("Capture sink error: %v", sinkErr.Err)
			t.noteFailure(sinkErr.Err)
			t.engine.PublishEvent(engine.Event{
				Type:  engine.EventCaptureFailed,
				Time:  time.Now(),
				Error: sinkErr.Err.Error(),
			})
		}
	}

	ticker.Stop()
	t.engine.RemoveEventWatcher(events)
	if t.capturing {
		t.stopCapture("shutdown")
	}
	t.log.Infof("Recording trigger thread shutdown complete")
	close(t.ShutdownComplete)
}

func (t *Trigger) processEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventOpen:
		opts := t.options()
		if opts.SnapshotOnOpen {
			t.writeSnapshot(ev, opts.SnapshotDir)
		}
		if !t.capturing {
			t.startCapture(opts.Duration)
		}
	case engine.EventSessionEnded:
		// Flush the evidence even if its deadline hasn't arrived; the
		// session's artifact must be complete when the session is.
		if t.capturing {
			t.stopCapture("session end")
		}
	}
}

func (t *Trigger) startCapture(duration time.Duration) {
	handle, err := t.sink.Start()
	if err != nil {
		t.log.Errorf("Failed to start capture: %v", err)
		t.noteFailure(err)
		t.engine.PublishEvent(engine.Event{
			Type:  engine.EventCaptureFailed,
			Time:  time.Now(),
			Error: err.Error(),
		})
		return
	}
	now := time.Now()
	t.handle = handle
	t.capturing = true
	t.startedAt = now
	t.deadline = now.Add(duration)

	t.statusLock.Lock()
	t.status.Capturing = true
	startedAt := now
	t.status.CaptureStartedAt = &startedAt
	t.statusLock.Unlock()

	t.engine.PublishEvent(engine.Event{Type: engine.EventCaptureStarted, Time: now})
}

func (t *Trigger) stopCapture(reason string) {
	artifact, err := t.sink.Stop(t.handle)
	t.capturing = false
	t.handle = 0

	t.statusLock.Lock()
	t.status.Capturing = false
	t.status.CaptureStartedAt = nil
	t.statusLock.Unlock()

	if err != nil {
		t.log.Errorf("Failed to stop capture (%v): %v", reason, err)
		t.noteFailure(err)
		t.engine.PublishEvent(engine.Event{
			Type:  engine.EventCaptureFailed,
			Time:  time.Now(),
			Error: err.Error(),
		})
		return
	}

	t.statusLock.Lock()
	t.status.NumCaptures++
	t.lastArtifact = artifact
	t.statusLock.Unlock()

	t.log.Infof("Capture finished (%v): %v", reason, artifact.Filename)
	t.engine.PublishEvent(engine.Event{
		Type:     engine.EventCaptureStopped,
		Time:     time.Now(),
		Filename: artifact.Filename,
	})
}

func (t *Trigger) checkDeadline() {
	if t.capturing && time.Now().After(t.deadline) {
		t.stopCapture("deadline")
	}
}

func (t *Trigger) writeSnapshot(ev engine.Event, dir string) {
	frame, ok := t.source.Latest()
	if !ok {
		return
	}
	if _, err := WriteSnapshot(dir, frame, ev.Kind, ev.IntervalID); err != nil {
		// Snapshots are best-effort extras; a failure is logged and nothing
		// else.
		t.log.Warnf("Snapshot failed: %v", err)
	}
}

func (t *Trigger) noteFailure(err error) {
	t.statusLock.Lock()
	t.status.Degraded = true
	t.status.LastError = err.Error()
	t.status.NumFailures++
	t.statusLock.Unlock()
}
