package server

import (
	"net/http"

	"github.com/azrihasin/proctoring/server/engine"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type sessionStartJSON struct {
	ExternalID string `json:"externalID"` // Exam/candidate identifier, for the session record
}

type sessionStartedJSON struct {
	SessionID int64 `json:"sessionID"`
}

// SYNC-SESSION-SUMMARY-JSON
type sessionSummaryJSON struct {
	SessionID  int64              `json:"sessionID"`
	Violations []*engine.Interval `json:"violations"`
}

func (s *Server) httpSessionStart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	body := sessionStartJSON{}
	if r.ContentLength > 0 {
		www.ReadJSON(w, r, &body, 64*1024)
	}
	sessionID, err := s.StartSession(body.ExternalID)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, &sessionStartedJSON{SessionID: sessionID})
}

func (s *Server) httpSessionStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if err := s.StopSession(); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	// The engine has closed all intervals by the time StopSession returns,
	// so this snapshot is the session's final log.
	www.SendJSON(w, &sessionSummaryJSON{
		SessionID:  s.SessionID(),
		Violations: s.Engine.Snapshot(),
	})
}

func (s *Server) httpSessions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sessions, err := s.DB.Sessions(www.QueryInt(r, "max"))
	www.Check(err)
	www.SendJSON(w, sessions)
}

func (s *Server) httpSessionViolations(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sessionID := www.ParseID(params.ByName("sessionID"))
	violations, err := s.DB.Violations(sessionID)
	www.Check(err)
	www.SendJSON(w, violations)
}
