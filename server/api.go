package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

// SetupHTTP builds the API router. The server binds a loopback/LAN sidecar
// address for a single exam station, so there is no auth layer; the rate
// limiter is there to keep a misbehaving review UI from starving the tick
// loop of CPU.
func (s *Server) SetupHTTP() http.Handler {
	router := httprouter.New()

	www.Handle(s.Log, router, "GET", "/api/ping", s.httpPing)
	www.Handle(s.Log, router, "GET", "/api/status", s.httpStatus)
	www.Handle(s.Log, router, "GET", "/api/config", s.httpGetConfig)
	www.Handle(s.Log, router, "GET", "/api/violations", s.httpViolations)
	www.Handle(s.Log, router, "GET", "/api/violations/recent", s.httpViolationsRecent)
	www.Handle(s.Log, router, "POST", "/api/session/start", s.httpSessionStart)
	www.Handle(s.Log, router, "POST", "/api/session/stop", s.httpSessionStop)
	www.Handle(s.Log, router, "GET", "/api/sessions", s.httpSessions)
	www.Handle(s.Log, router, "GET", "/api/session/:sessionID/violations", s.httpSessionViolations)
	www.Handle(s.Log, router, "GET", "/api/artifacts", s.httpArtifacts)
	www.Handle(s.Log, router, "GET", "/api/artifact/:artifactID/download", s.httpArtifactDownload)
	router.GET("/api/ws/events", s.httpEventsWebSocket)
	router.Handler("GET", "/metrics", s.Metrics.Handler())

	limit := httprate.Limit(600, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	return limit(router)
}

// ListenHTTP serves the API until Shutdown is called
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.SetupHTTP(),
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
