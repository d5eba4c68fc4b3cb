package server

import (
	"strconv"

	"github.com/azrihasin/proctoring/pkg/gen"
	"github.com/azrihasin/proctoring/server/engine"
	"github.com/azrihasin/proctoring/server/violationdb"
	"github.com/cyclopcam/dbh"
)

// The engine knows nothing of persistence, and violationdb knows nothing
// of the engine's event bus; this bridge thread connects them.
func (s *Server) attachEngineToDB() {
	go func() {
		s.Log.Infof("Engine -> ViolationDB thread starting")
		events := s.Engine.AddEventWatcher()
		keepRunning := true
		for keepRunning {
			select {
			case <-s.ShutdownStarted:
				keepRunning = false
			case ev := <-events:
				s.persistEvent(ev)
			}
		}
		s.Engine.RemoveEventWatcher(events)
		// Shutdown publishes the final session-ended and capture-stopped
		// events before signalling us, so they may still be buffered
		for _, ev := range gen.DrainChannelIntoSlice(events) {
			s.persistEvent(ev)
		}
		s.Log.Infof("Engine -> ViolationDB thread exiting")
		close(s.dbBridgeClosed)
	}()
}

func (s *Server) persistEvent(ev engine.Event) {
	sessionID := s.sessionID.Load()
	if sessionID == 0 {
		return
	}
	switch ev.Type {
	case engine.EventOpen, engine.EventClose:
		if iv := s.findInterval(ev.IntervalID); iv != nil {
			s.DB.UpsertViolation(toViolationRecord(sessionID, iv))
		}
	case engine.EventSessionEnded:
		// Still-open intervals were closed by the engine before this event,
		// and their close events precede it on the bus, so the persisted
		// log is already well formed.
		s.DB.EndSession(sessionID, ev.Time)
	case engine.EventCaptureStopped:
		if art := s.Trigger.LastArtifact(); art != nil && art.Filename == ev.Filename {
			s.DB.AddArtifact(&violationdb.Artifact{
				Session:   sessionID,
				Filename:  art.Filename,
				Path:      art.Path,
				Size:      art.Size,
				Frames:    int32(art.Frames),
				StartedAt: dbh.MakeIntTime(art.StartTime),
				EndedAt:   dbh.MakeIntTime(art.EndTime),
			})
		}
	}
}

// findInterval fetches the interval from the engine's snapshot. Events
// reference intervals by ID, never by live pointer, so a snapshot lookup is
// the only way back to the data, and it is always consistent.
func (s *Server) findInterval(intervalID int64) *engine.Interval {
	for _, iv := range s.Engine.Snapshot() {
		if iv.ID == intervalID {
			return iv
		}
	}
	s.Log.Warnf("Event references unknown interval %v", intervalID)
	return nil
}

func toViolationRecord(sessionID int64, iv *engine.Interval) *violationdb.Violation {
	rec := &violationdb.Violation{
		Session:       sessionID,
		IntervalID:    iv.ID,
		Kind:          iv.Kind.String(),
		ViolationTime: dbh.MakeIntTime(iv.ViolationTime),
		StartTime:     dbh.MakeIntTime(iv.StartTime),
		EndTime:       dbh.MakeIntTime(iv.EndTime),
		Score:         iv.Score,
		PeakScore:     iv.PeakScore,
		Ticks:         int32(iv.Ticks),
		Closed:        iv.Closed,
	}
	if iv.Label != "" || iv.Box != nil {
		rec.Detail = dbh.MakeJSONField(violationdb.ViolationDetailJSON{
			Label: iv.Label,
			Box:   iv.Box,
		})
	}
	return rec
}

// attachEngineToMetrics folds tick reports and events into the scrape
// counters. Logging of events happens here too: the tick loop never logs
// per-event, it only publishes.
func (s *Server) attachEngineToMetrics() {
	go func() {
		ticks := s.Engine.AddTickWatcher()
		events := s.Engine.AddEventWatcher()
		keepRunning := true
		for keepRunning {
			select {
			case <-s.ShutdownStarted:
				keepRunning = false
			case report := <-ticks:
				s.Metrics.TicksProcessed.Add(1)
				if report.Skipped {
					s.Metrics.TicksSkipped.Add(1)
				}
				s.Metrics.OpenViolations.Store(uint64(report.OpenCount))
			case ev := <-events:
				s.observeEvent(ev)
			}
		}
		s.Engine.RemoveTickWatcher(ticks)
		s.Engine.RemoveEventWatcher(events)
		for _, ev := range gen.DrainChannelIntoSlice(events) {
			s.observeEvent(ev)
		}
		close(s.metricsBridgeClosed)
	}()
}

func (s *Server) observeEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventOpen:
		s.Metrics.ViolationsOpened.Add(1)
		s.Log.Infof("Violation open: %v (interval %v, score %v)", ev.Kind, ev.IntervalID, scoreString(ev.Score))
	case engine.EventClose:
		s.Metrics.ViolationsClosed.Add(1)
		s.Log.Infof("Violation close: %v (interval %v)", ev.Kind, ev.IntervalID)
	case engine.EventSuppressed:
		s.Metrics.OpensSuppressed.Add(1)
	case engine.EventCaptureStarted:
		s.Metrics.CapturesStarted.Add(1)
	case engine.EventCaptureStopped:
		s.Metrics.CapturesStopped.Add(1)
	case engine.EventCaptureFailed:
		s.Metrics.CaptureFailures.Add(1)
	}
}

func scoreString(score *float32) string {
	if score == nil {
		return "none"
	}
	return strconv.FormatFloat(float64(*score), 'f', 2, 32)
}
