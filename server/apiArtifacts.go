package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpArtifacts(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	artifacts, err := s.DB.Artifacts(www.QueryInt64(r, "session"))
	www.Check(err)
	www.SendJSON(w, artifacts)
}

func (s *Server) httpArtifactDownload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	artifact, err := s.DB.ArtifactByID(www.ParseID(params.ByName("artifactID")))
	www.Check(err)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+artifact.Filename+"\"")
	http.ServeFile(w, r, artifact.Path)
}
