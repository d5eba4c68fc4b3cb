package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// The violation log export: the full ordered list of interval records for
// the current session, open and closed, in append order.
func (s *Server) httpViolations(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Engine.Snapshot())
}

// Recent tick reports, for live debugging of thresholds: what the
// classifiers saw, what was selected, how long the current run is.
func (s *Server) httpViolationsRecent(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	max := www.QueryInt(r, "max")
	if max <= 0 {
		max = 50
	}
	www.SendJSON(w, s.Engine.Recent(max))
}
