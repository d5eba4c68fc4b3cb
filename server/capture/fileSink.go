package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
)

// FrameTap is where the sink gets its continuous frame feed (the camera
// source implements this)
type FrameTap interface {
	AddFrameWatcher() chan *nn.Frame
	RemoveFrameWatcher(ch chan *nn.Frame)
}

// FileSink records evidence as an MJPEG file: concatenated JPEG frames,
// crude but codec-free and playable by common review tools.
//
// While idle, incoming frames accumulate in a weighted ring buffer, so when
// Start fires, the file begins roughly the interval's leading context
// bracket before the trigger instant, not at it. The ring is bounded by
// bytes (PrebufferMB), which is the natural budget for JPEG frames of
// unpredictable size.
type FileSink struct {
	log logs.Log
	dir string
	tap FrameTap

	errors chan SinkError

	// All following state is guarded by lock. Frames arrive on the consume
	// thread; Start/Stop arrive from the recording trigger.
	lock       sync.Mutex
	ring       ringbuffer.WeightedRingT[nn.Frame]
	handle     Handle
	nextHandle Handle
	file       *os.File
	artifact   *Artifact
	writeErr   error

	frames   chan *nn.Frame
	shutdown chan bool
	stopped  chan bool
}

func NewFileSink(log logs.Log, dir string, prebufferMB int, tap FrameTap) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0770); err != nil {
		return nil, fmt.Errorf("Failed to create evidence directory '%v': %w", dir, err)
	}
	s := &FileSink{
		log:        logs.NewPrefixLogger(log, "FileSink:"),
		dir:        dir,
		tap:        tap,
		ring:       ringbuffer.NewWeightedRingT[nn.Frame](prebufferMB * 1024 * 1024),
		errors:     make(chan SinkError, 16),
		nextHandle: 1,
		shutdown:   make(chan bool),
		stopped:    make(chan bool),
	}
	s.frames = tap.AddFrameWatcher()
	go s.consumeThread()
	return s, nil
}

func (s *FileSink) Errors() <-chan SinkError {
	return s.errors
}

func (s *FileSink) Close() {
	s.tap.RemoveFrameWatcher(s.frames)
	close(s.shutdown)
	<-s.stopped
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// Start opens a timestamped file and drains the prebuffer into it.
// Subsequent frames are appended until Stop.
func (s *FileSink) Start() (Handle, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.file != nil {
		return 0, fmt.Errorf("capture already in progress (handle %v)", s.handle)
	}
	now := time.Now()
	filename := now.Format("2006-01-02_15-04-05") + ".mjpeg"
	fullPath := filepath.Join(s.dir, filename)
	file, err := os.Create(fullPath)
	if err != nil {
		return 0, fmt.Errorf("Failed to create capture file '%v': %w", fullPath, err)
	}

	artifact := &Artifact{
		Filename:  filename,
		Path:      fullPath,
		StartTime: now,
	}
	// Drain the prebuffer. If any buffered frame predates 'now', the
	// artifact's start time reflects it.
	for {
		ok, frame, _ := s.ring.Next()
		if !ok {
			break
		}
		if artifact.Frames == 0 && frame.PTS.Before(artifact.StartTime) {
			artifact.StartTime = frame.PTS
		}
		n, err := file.Write(frame.Jpeg)
		if err != nil {
			file.Close()
			os.Remove(fullPath)
			return 0, fmt.Errorf("Failed to write capture file '%v': %w", fullPath, err)
		}
		artifact.Size += int64(n)
		artifact.Frames++
	}

	s.handle = s.nextHandle
	s.nextHandle++
	s.file = file
	s.artifact = artifact
	s.writeErr = nil
	s.log.Infof("Capture %v started: %v (%v prebuffered frames)", s.handle, filename, artifact.Frames)
	return s.handle, nil
}

// Stop finalizes the file and returns the artifact. The sink returns to
// prebuffering mode.
func (s *FileSink) Stop(handle Handle) (*Artifact, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.file == nil || handle != s.handle {
		return nil, fmt.Errorf("no capture in progress with handle %v", handle)
	}
	artifact := s.artifact
	artifact.EndTime = time.Now()
	err := s.file.Close()
	s.file = nil
	s.artifact = nil
	if s.writeErr != nil && err == nil {
		err = s.writeErr
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to finalize capture '%v': %w", artifact.Filename, err)
	}
	s.log.Infof("Capture %v stopped: %v (%v frames, %v bytes)", handle, artifact.Filename, artifact.Frames, artifact.Size)
	return artifact, nil
}

func (s *FileSink) consumeThread() {
	for {
		select {
		case <-s.shutdown:
			close(s.stopped)
			return
		case frame := <-s.frames:
			s.consumeFrame(frame)
		}
	}
}

func (s *FileSink) consumeFrame(frame *nn.Frame) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.file == nil {
		s.ring.Add(len(frame.Jpeg), frame)
		return
	}
	if s.writeErr != nil {
		// The recording is already broken; don't spam the error channel
		return
	}
	n, err := s.file.Write(frame.Jpeg)
	if err != nil {
		s.writeErr = err
		s.log.Errorf("Capture write failed: %v", err)
		select {
		case s.errors <- SinkError{Handle: s.handle, Err: err}:
		default:
		}
		return
	}
	s.artifact.Size += int64(n)
	s.artifact.Frames++
}
