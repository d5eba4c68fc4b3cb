package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/azrihasin/proctoring/pkg/perfstats"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
)

// FrameSource supplies the most recent frame from the capture device.
// Latest must not block; it returns false when no frame is available yet or
// the source has gone stale.
type FrameSource interface {
	Latest() (*nn.Frame, bool)
}

// Throttle for repetitive per-tick warnings (stale frames, detector timeouts)
const tickWarnInterval = 15 * time.Second

// Size of the recent tick report ring. Must be a power of 2.
const recentTickRingSize = 256

// Engine drives the sampling loop. Once per tick it pulls the latest frame,
// awaits both detectors within the tick budget, classifies conditions,
// advances the consecutive-run tracker, and mutates the violation interval
// store. All condition state is owned by the run goroutine; every other
// component observes through watcher channels or snapshots.
type Engine struct {
	Log logs.Log

	source   FrameSource
	presence nn.ObjectDetector // nil when unavailable
	objects  nn.ObjectDetector // nil when unavailable
	setup    classifierSetup

	policy atomic.Pointer[Policy]

	// Session state, owned by the run goroutine
	tracker  trackerState
	debounce debounceState

	// Guards the store during the tick mutation window and for snapshots
	storeLock sync.Mutex
	store     *intervalStore

	stateLock    sync.Mutex
	running      bool
	sessionStart time.Time
	externalID   string
	shutdown     chan bool
	loopStopped  chan bool

	watchersLock  sync.RWMutex
	tickWatchers  []chan *TickReport
	eventWatchers []chan Event

	recentLock sync.Mutex
	recent     ringbuffer.RingP[*TickReport]

	numTicks          atomic.Int64
	numSkipped        atomic.Int64
	numSuppressed     atomic.Int64
	numDroppedReports atomic.Int64
	numDroppedEvents  atomic.Int64
	avgDetectNS       atomic.Uint64
	avgTickNS         atomic.Uint64

	// Warn throttles, owned by the run goroutine
	lastFrameWarn  time.Time
	lastDetectWarn time.Time
}

// NewEngine validates the policy and prepares an idle engine. Either
// detector may be nil; the conditions that depend on it are disabled and
// the engine reports itself degraded. The engine owns the detectors and
// closes them in Close.
func NewEngine(log logs.Log, source FrameSource, presence, objects nn.ObjectDetector, policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: no frame source", ErrInvalidConfiguration)
	}

	setup := classifierSetup{
		personClass:   nn.COCOPerson,
		personLabel:   "person",
		objectClasses: nn.COCOClasses,
	}
	if presence != nil {
		if cfg := presence.Config(); cfg != nil {
			if idx := cfg.LookupClass("person"); idx != -1 {
				setup.personClass = idx
			} else if idx := cfg.LookupClass("face"); idx != -1 {
				setup.personClass = idx
				setup.personLabel = "face"
			}
		}
	} else {
		log.Errorf("Presence classifier unavailable. Subject absence and second subject detection are disabled.")
	}
	if objects != nil {
		if cfg := objects.Config(); cfg != nil && len(cfg.Classes) > 0 {
			setup.objectClasses = cfg.Classes
		}
	} else {
		log.Errorf("Object classifier unavailable. Restricted object detection is disabled.")
	}

	e := &Engine{
		Log:      log,
		source:   source,
		presence: presence,
		objects:  objects,
		setup:    setup,
		store:    newIntervalStore(log),
		debounce: newDebounceState(),
		recent:   ringbuffer.NewRingP[*TickReport](recentTickRingSize),
	}
	e.policy.Store(&policy)
	return e, nil
}

// SetPolicy swaps the tuning. Takes effect at the top of the next tick.
func (e *Engine) SetPolicy(policy Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	e.policy.Store(&policy)
	e.Log.Infof("Policy updated (tick interval %v, restricted set %v)", policy.TickInterval(), policy.RestrictedLabels)
	return nil
}

// Policy returns a copy of the active tuning
func (e *Engine) GetPolicy() Policy {
	return *e.policy.Load()
}

// StartSession resets all condition state and begins the tick loop
func (e *Engine) StartSession(externalID string) error {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.running {
		return fmt.Errorf("A session is already running")
	}

	e.storeLock.Lock()
	e.tracker = trackerState{}
	e.debounce = newDebounceState()
	e.store = newIntervalStore(e.Log)
	e.storeLock.Unlock()

	e.recentLock.Lock()
	e.recent = ringbuffer.NewRingP[*TickReport](recentTickRingSize)
	e.recentLock.Unlock()

	e.numTicks.Store(0)
	e.numSkipped.Store(0)
	e.numSuppressed.Store(0)

	e.sessionStart = time.Now()
	e.externalID = externalID
	e.shutdown = make(chan bool)
	e.loopStopped = make(chan bool)
	e.running = true
	go e.runLoop(e.shutdown, e.loopStopped)

	e.PublishEvent(Event{Type: EventSessionStarted, Time: e.sessionStart, ExternalID: externalID})
	e.Log.Infof("Session started (externalID '%v', tick interval %v)", externalID, e.policy.Load().TickInterval())
	return nil
}

// StopSession cancels the timer, waits for an in-flight tick to finish
// applying, closes any still-open intervals at the session end instant, and
// leaves the log intact for export.
func (e *Engine) StopSession() error {
	e.stateLock.Lock()
	if !e.running {
		e.stateLock.Unlock()
		return fmt.Errorf("No session is running")
	}
	// Flip running before releasing the lock, so a concurrent StopSession
	// takes the error path instead of closing the same channel twice
	e.running = false
	shutdown := e.shutdown
	stopped := e.loopStopped
	e.stateLock.Unlock()

	close(shutdown)
	<-stopped
	return nil
}

// Close stops any running session and releases the detectors
func (e *Engine) Close() {
	e.StopSession()
	if e.presence != nil {
		e.presence.Close()
	}
	if e.objects != nil {
		e.objects.Close()
	}
	e.Log.Infof("Engine closed")
}

// Snapshot returns the full violation log in append order, as deep copies
// taken outside the tick mutation window
func (e *Engine) Snapshot() []*Interval {
	e.storeLock.Lock()
	defer e.storeLock.Unlock()
	return e.store.snapshot()
}

func (e *Engine) runLoop(shutdown, stopped chan bool) {
	policy := e.policy.Load()
	interval := policy.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tickIndex := int64(0)
	for {
		select {
		case <-shutdown:
			e.endSession(time.Now())
			stopped <- true
			return
		case <-ticker.C:
			// A hot-swapped policy takes effect here, between ticks
			policy = e.policy.Load()
			if newInterval := policy.TickInterval(); newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}
			tickIndex++
			e.processTick(tickIndex, time.Now(), policy)
		}
	}
}

// processTick runs one full sample-classify-advance cycle. The ticker only
// fires again once we return, so ticks never interleave; if we overrun the
// interval, missed firings are dropped by the ticker.
func (e *Engine) processTick(tickIndex int64, now time.Time, policy *Policy) {
	tickStart := time.Now()
	report := &TickReport{TickIndex: tickIndex, Time: now, Selected: CondNone}

	frame, ok := e.source.Latest()
	if !ok {
		e.finishSkippedTick(report, "no frame available", &e.lastFrameWarn)
		return
	}

	sample, err := e.collectSample(frame, policy)
	if err != nil {
		// The tick is a miss: no condition state is mutated
		e.finishSkippedTick(report, err.Error(), &e.lastDetectWarn)
		return
	}

	candidates := classifyConditions(sample, policy, &e.setup)
	report.Candidates = candidates

	e.storeLock.Lock()
	outcome := advanceTick(&e.tracker, &e.debounce, e.store, policy, candidates, now)
	report.OpenCount = e.store.openCount()
	e.storeLock.Unlock()

	report.Selected = outcome.selected
	report.Run = outcome.run
	report.Confirmed = outcome.confirmed
	report.Events = outcome.events

	e.numTicks.Add(1)
	for _, ev := range outcome.events {
		if ev.Type == EventSuppressed {
			e.numSuppressed.Add(1)
		}
	}
	perfstats.Update(&e.avgTickNS, time.Since(tickStart).Nanoseconds())

	e.publishReport(report)
}

// collectSample awaits both detectors under a single per-tick deadline
func (e *Engine) collectSample(frame *nn.Frame, policy *Policy) (*Sample, error) {
	sample := &Sample{
		FrameID:     frame.ID,
		PTS:         frame.PTS,
		ImageWidth:  frame.Width,
		ImageHeight: frame.Height,
	}
	if e.presence == nil && e.objects == nil {
		return sample, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), policy.DetectBudget())
	defer cancel()
	start := time.Now()

	if e.presence != nil {
		params := nn.NewDetectionParams()
		params.ProbabilityThreshold = policy.MinPresenceConfidence
		dets, err := e.presence.DetectObjects(ctx, frame, params)
		if err != nil {
			return nil, wrapDetectError("presence", ctx, err)
		}
		sample.Presence = dets
		sample.PresenceOK = true
	}
	if e.objects != nil {
		params := nn.NewDetectionParams()
		params.ProbabilityThreshold = policy.MinObjectConfidence
		dets, err := e.objects.DetectObjects(ctx, frame, params)
		if err != nil {
			return nil, wrapDetectError("object", ctx, err)
		}
		sample.Objects = dets
		sample.ObjectsOK = true
	}

	perfstats.Update(&e.avgDetectNS, time.Since(start).Nanoseconds())
	return sample, nil
}

func wrapDetectError(which string, ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v detector: %v", ErrClassifierTimeout, which, err)
	}
	return fmt.Errorf("%v detector: %w", which, err)
}

func (e *Engine) finishSkippedTick(report *TickReport, reason string, warnAt *time.Time) {
	report.Skipped = true
	report.SkipReason = reason
	e.numTicks.Add(1)
	e.numSkipped.Add(1)
	if time.Since(*warnAt) > tickWarnInterval {
		*warnAt = time.Now()
		e.Log.Warnf("Tick skipped: %v", reason)
	}
	e.publishReport(report)
}

// endSession runs on the tick goroutine after the timer is cancelled, so
// these are the final mutations of the session
func (e *Engine) endSession(now time.Time) {
	e.storeLock.Lock()
	closed := e.store.closeAll(now)
	total := e.store.totalCount()
	e.storeLock.Unlock()

	for _, iv := range closed {
		e.PublishEvent(Event{
			Type:       EventClose,
			Kind:       iv.Kind,
			Time:       now,
			IntervalID: iv.ID,
			Score:      copyScore(iv.Score),
		})
	}
	e.PublishEvent(Event{Type: EventSessionEnded, Time: now})
	e.Log.Infof("Session ended. %v violation intervals recorded.", total)
}

func (e *Engine) publishReport(report *TickReport) {
	e.recentLock.Lock()
	e.recent.Add(report)
	e.recentLock.Unlock()

	e.sendToTickWatchers(report)
	for _, ev := range report.Events {
		e.PublishEvent(ev)
	}
}
