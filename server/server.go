// Package server wires the violation engine to its operational surfaces:
// camera polling, detector clients, evidence capture, sqlite persistence,
// webhook notifications, metrics, and the HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/azrihasin/proctoring/server/camera"
	"github.com/azrihasin/proctoring/server/capture"
	"github.com/azrihasin/proctoring/server/config"
	"github.com/azrihasin/proctoring/server/detect"
	"github.com/azrihasin/proctoring/server/engine"
	"github.com/azrihasin/proctoring/server/metrics"
	"github.com/azrihasin/proctoring/server/notifications"
	"github.com/azrihasin/proctoring/server/violationdb"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

type Server struct {
	Log      logs.Log
	Engine   *engine.Engine
	Source   *camera.HTTPSource
	Sink     *capture.FileSink
	Trigger  *capture.Trigger
	Notifier *notifications.Notifier
	DB       *violationdb.VDB
	Metrics  *metrics.Metrics

	ShutdownStarted  chan bool // Closed when shutdown begins
	ShutdownComplete chan bool // Closed when shutdown has finished

	configLock sync.Mutex
	config     *config.Config

	// The violationdb row of the currently running session
	sessionID atomic.Int64

	dbBridgeClosed      chan bool
	metricsBridgeClosed chan bool
	wsUpgrader          websocket.Upgrader

	signalIn   chan os.Signal
	httpServer *http.Server
}

func NewServer(log logs.Log, cfg *config.Config) (*Server, error) {
	if cfg.Camera.FrameURL == "" {
		return nil, fmt.Errorf("%w: camera.frameURL is required", engine.ErrInvalidConfiguration)
	}

	db, err := violationdb.Open(log, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	source := camera.NewHTTPSource(log, cfg.Camera.FrameURL, time.Duration(cfg.Camera.PollIntervalMS)*time.Millisecond)

	// A detector that fails to initialize is reported and left out; the
	// engine runs degraded with the remaining conditions.
	detectorTimeout := time.Duration(cfg.Detectors.TimeoutMS) * time.Millisecond
	var presence, objects nn.ObjectDetector
	if cfg.Detectors.PresenceURL != "" {
		if d, err := detect.NewRemoteDetector(log, cfg.Detectors.PresenceURL, detectorTimeout); err != nil {
			log.Errorf("Presence detector unavailable: %v", err)
		} else {
			presence = d
		}
	}
	if cfg.Detectors.ObjectURL != "" {
		if d, err := detect.NewRemoteDetector(log, cfg.Detectors.ObjectURL, detectorTimeout); err != nil {
			log.Errorf("Object detector unavailable: %v", err)
		} else {
			objects = d
		}
	}

	eng, err := engine.NewEngine(log, source, presence, objects, cfg.Policy)
	if err != nil {
		source.Close()
		db.Close()
		return nil, err
	}

	sink, err := capture.NewFileSink(log, cfg.EvidenceDir, cfg.Capture.PrebufferMB, source)
	if err != nil {
		source.Close()
		db.Close()
		return nil, err
	}

	s := &Server{
		Log:                 log,
		Engine:              eng,
		Source:              source,
		Sink:                sink,
		DB:                  db,
		Metrics:             metrics.New(),
		config:              cfg,
		ShutdownStarted:     make(chan bool),
		ShutdownComplete:    make(chan bool),
		dbBridgeClosed:      make(chan bool),
		metricsBridgeClosed: make(chan bool),
	}
	s.Trigger = capture.NewTrigger(log, eng, sink, source, triggerOptions(cfg))
	s.Notifier = notifications.NewNotifier(log, eng, cfg.WebhookURL)
	s.Metrics.RegisterWebhookStats(s.Notifier.NumSent.Load, s.Notifier.NumFailed.Load)

	s.attachEngineToDB()
	s.attachEngineToMetrics()
	return s, nil
}

func triggerOptions(cfg *config.Config) capture.TriggerOptions {
	return capture.TriggerOptions{
		Duration:       time.Duration(cfg.Capture.DurationSeconds) * time.Second,
		SnapshotOnOpen: cfg.Capture.SnapshotEnabled(),
		SnapshotDir:    cfg.EvidenceDir,
	}
}

// Config returns the active configuration
func (s *Server) Config() *config.Config {
	s.configLock.Lock()
	defer s.configLock.Unlock()
	return s.config
}

// ApplyConfig hot-swaps the tunable parts of the configuration. Structural
// settings (HTTP address, DB path, camera URL, detector URLs) require a
// restart and are reported if changed.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	if err := s.Engine.SetPolicy(cfg.Policy); err != nil {
		return err
	}
	s.Trigger.SetOptions(triggerOptions(cfg))
	s.Notifier.SetURL(cfg.WebhookURL)

	s.configLock.Lock()
	old := s.config
	s.config = cfg
	s.configLock.Unlock()

	if old.HTTPAddr != cfg.HTTPAddr || old.DBPath != cfg.DBPath ||
		old.Camera != cfg.Camera || old.Detectors != cfg.Detectors {
		s.Log.Warnf("HTTP/DB/camera/detector settings changed; these take effect on restart")
	}
	return nil
}

// StartSession creates the durable session record and starts the engine's
// tick loop
func (s *Server) StartSession(externalID string) (int64, error) {
	sessionID, err := s.DB.BeginSession(externalID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("Failed to create session record: %w", err)
	}
	s.sessionID.Store(sessionID)
	if err := s.Engine.StartSession(externalID); err != nil {
		s.DB.EndSession(sessionID, time.Now())
		return 0, err
	}
	s.Metrics.SessionsTotal.Add(1)
	s.Metrics.SessionRunning.Store(1)
	return sessionID, nil
}

// StopSession ends the engine session. The event bridges take care of
// closing out the durable record.
func (s *Server) StopSession() error {
	if err := s.Engine.StopSession(); err != nil {
		return err
	}
	s.Metrics.SessionRunning.Store(0)
	return nil
}

// SessionID returns the violationdb ID of the current (or most recent)
// session, or 0 if none has run
func (s *Server) SessionID() int64 {
	return s.sessionID.Load()
}

// ListenForKillSignals runs a thread that calls Shutdown on SIGINT/SIGTERM
func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		if sig, ok := <-s.signalIn; ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops everything in dependency order: the tick loop first (so
// its final events flow through the still-running trigger and bridges),
// then the trigger (flushing any in-progress capture), then the bridges
// and I/O.
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown starting")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.httpServer.Shutdown(ctx)
		cancel()
	}
	if err := s.StopSession(); err == nil {
		s.Log.Infof("Session stopped for shutdown")
	}
	s.Trigger.Close()
	s.Notifier.Close()

	close(s.ShutdownStarted)
	<-s.dbBridgeClosed
	<-s.metricsBridgeClosed

	s.Sink.Close()
	s.Source.Close()
	s.Engine.Close()
	s.DB.Close()
	s.Log.Infof("Shutdown complete")
	close(s.ShutdownComplete)
}
