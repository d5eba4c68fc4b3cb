package server

import (
	"net/http"
	"os"
	"time"

	"github.com/azrihasin/proctoring/server/capture"
	"github.com/azrihasin/proctoring/server/engine"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type pingJSON struct {
	Greeting string `json:"greeting"`
	Hostname string `json:"hostname"`
	Time     int64  `json:"time"`
}

// SYNC-STATUS-JSON
type statusJSON struct {
	Engine    *engine.Status        `json:"engine"`
	Capture   capture.TriggerStatus `json:"capture"`
	SessionID int64                 `json:"sessionID,omitempty"` // violationdb ID of the current/last session
	Degraded  bool                  `json:"degraded"`            // Any component running impaired
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	hostname, _ := os.Hostname()
	www.SendJSON(w, &pingJSON{
		Greeting: "I am Proctor",
		Hostname: hostname,
		Time:     time.Now().Unix(),
	})
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	engineStatus := s.Engine.Status()
	captureStatus := s.Trigger.Status()
	www.SendJSON(w, &statusJSON{
		Engine:    engineStatus,
		Capture:   captureStatus,
		SessionID: s.SessionID(),
		Degraded:  engineStatus.Degraded || captureStatus.Degraded,
	})
}

func (s *Server) httpGetConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Config())
}
