package engine

import (
	"github.com/azrihasin/proctoring/pkg/gen"
)

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive a report for every processed tick
func (e *Engine) AddTickWatcher() chan *TickReport {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	ch := make(chan *TickReport, WatcherChannelSize)
	e.tickWatchers = append(e.tickWatchers, ch)
	return ch
}

// Unregister from tick reports
func (e *Engine) RemoveTickWatcher(ch chan *TickReport) {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	for i, w := range e.tickWatchers {
		if w == ch {
			e.tickWatchers = gen.DeleteFromSliceUnordered(e.tickWatchers, i)
			return
		}
	}
	e.Log.Warnf("Engine.RemoveTickWatcher failed to find channel")
}

// Register to receive violation and capture lifecycle events
func (e *Engine) AddEventWatcher() chan Event {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	// SYNC-WATCHER-CHANNEL-SIZE
	ch := make(chan Event, WatcherChannelSize)
	e.eventWatchers = append(e.eventWatchers, ch)
	return ch
}

// Unregister an event watcher
func (e *Engine) RemoveEventWatcher(ch chan Event) {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	for i, w := range e.eventWatchers {
		if w == ch {
			e.eventWatchers = gen.DeleteFromSliceUnordered(e.eventWatchers, i)
			return
		}
	}
	e.Log.Warnf("Engine.RemoveEventWatcher failed to find channel")
}

func (e *Engine) sendToTickWatchers(report *TickReport) {
	e.watchersLock.RLock()
	for _, ch := range e.tickWatchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			// This should never happen. But as a safeguard against a stalled
			// subscriber blocking the tick loop, we choose to drop reports.
			e.Log.Warnf("Engine tick watcher is falling behind. I am going to drop reports.")
			e.numDroppedReports.Add(1)
		} else {
			ch <- report
		}
	}
	e.watchersLock.RUnlock()
}

// PublishEvent delivers an event to all event watchers. The engine calls
// this for interval lifecycle events; the recording trigger calls it for
// capture lifecycle events. The trigger consumes the same bus it publishes
// to, so a blocking send here could deadlock it against itself; a stalled
// watcher loses events instead.
func (e *Engine) PublishEvent(event Event) {
	e.watchersLock.RLock()
	for _, ch := range e.eventWatchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			e.Log.Warnf("Engine event watcher is falling behind. I am going to drop events.")
			e.numDroppedEvents.Add(1)
		} else {
			ch <- event
		}
	}
	e.watchersLock.RUnlock()
}
