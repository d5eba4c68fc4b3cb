// Package camera acquires frames from the exam station's capture device.
// The device side (permissions, codecs, device selection) is out of our
// hands; we see it as an HTTP endpoint that serves the latest frame as a
// JPEG, and we poll it on a fixed cadence.
package camera

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azrihasin/proctoring/pkg/gen"
	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
)

// A frame older than this many poll intervals is stale, and Latest reports
// no frame rather than hand the engine a scene that no longer exists.
const staleAfterPolls = 5

// Throttle for repetitive fetch failure warnings
const fetchWarnInterval = 15 * time.Second

// HTTPSource polls a frame URL and retains the most recent frame.
// Latest-wins: there is no backlog, and a slow consumer simply misses
// frames. Frame watchers (the capture sink's prebuffer tap) receive every
// frame we fetch, with drop-on-nearly-full protection.
type HTTPSource struct {
	log          logs.Log
	frameURL     string
	pollInterval time.Duration
	client       *http.Client

	latestLock sync.Mutex
	latest     *nn.Frame

	watchersLock sync.RWMutex
	watchers     []chan *nn.Frame

	nextFrameID   atomic.Int64
	numFetched    atomic.Int64
	numFailed     atomic.Int64
	droppedFrames atomic.Int64

	lastFetchWarn time.Time
	shutdown      chan bool
	stopped       chan bool
}

func NewHTTPSource(log logs.Log, frameURL string, pollInterval time.Duration) *HTTPSource {
	s := &HTTPSource{
		log:          logs.NewPrefixLogger(log, "Camera:"),
		frameURL:     frameURL,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: pollInterval * 2},
		shutdown:     make(chan bool),
		stopped:      make(chan bool),
	}
	go s.pollThread()
	return s
}

func (s *HTTPSource) Close() {
	close(s.shutdown)
	<-s.stopped
}

// Latest returns the most recent frame, or false if we have none, or the
// newest one is too old to act on
func (s *HTTPSource) Latest() (*nn.Frame, bool) {
	s.latestLock.Lock()
	defer s.latestLock.Unlock()
	if s.latest == nil {
		return nil, false
	}
	if time.Since(s.latest.PTS) > s.pollInterval*staleAfterPolls {
		return nil, false
	}
	return s.latest, true
}

// AddFrameWatcher registers for every fetched frame (the capture prebuffer
// tap). Channels are buffered; a watcher that falls behind loses frames,
// never blocks the poll thread.
func (s *HTTPSource) AddFrameWatcher() chan *nn.Frame {
	s.watchersLock.Lock()
	defer s.watchersLock.Unlock()
	ch := make(chan *nn.Frame, 32)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *HTTPSource) RemoveFrameWatcher(ch chan *nn.Frame) {
	s.watchersLock.Lock()
	defer s.watchersLock.Unlock()
	for i, w := range s.watchers {
		if w == ch {
			s.watchers = gen.DeleteFromSliceUnordered(s.watchers, i)
			return
		}
	}
	s.log.Warnf("RemoveFrameWatcher failed to find channel")
}

func (s *HTTPSource) pollThread() {
	s.log.Infof("Poll thread starting (%v every %v)", s.frameURL, s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			s.log.Infof("Poll thread exiting (%v frames fetched, %v failed)", s.numFetched.Load(), s.numFailed.Load())
			close(s.stopped)
			return
		case <-ticker.C:
			frame, err := s.fetchFrame()
			if err != nil {
				s.numFailed.Add(1)
				if time.Since(s.lastFetchWarn) > fetchWarnInterval {
					s.lastFetchWarn = time.Now()
					s.log.Warnf("Frame fetch failed: %v", err)
				}
				continue
			}
			s.numFetched.Add(1)

			s.latestLock.Lock()
			s.latest = frame
			s.latestLock.Unlock()

			s.sendToWatchers(frame)
		}
	}
}

func (s *HTTPSource) fetchFrame() (*nn.Frame, error) {
	resp, err := s.client.Get(s.frameURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %v", resp.StatusCode)
	}
	jpeg, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Decompress to learn the dimensions, and to reject a truncated or
	// corrupt image before it reaches the detectors.
	img, err := cimg.Decompress(jpeg)
	if err != nil {
		return nil, fmt.Errorf("invalid jpeg: %w", err)
	}
	return &nn.Frame{
		Jpeg:   jpeg,
		Width:  img.Width,
		Height: img.Height,
		PTS:    time.Now(),
		ID:     s.nextFrameID.Add(1),
	}, nil
}

func (s *HTTPSource) sendToWatchers(frame *nn.Frame) {
	s.watchersLock.RLock()
	for _, ch := range s.watchers {
		if len(ch) >= cap(ch)*9/10 {
			s.droppedFrames.Add(1)
		} else {
			ch <- frame
		}
	}
	s.watchersLock.RUnlock()
}
