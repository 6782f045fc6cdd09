package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"moltguard/internal/domain"
)

type guardRequest struct {
	Actor  string `json:"actor"`
	Action string `json:"action"`
}

type eventRequest struct {
	Owner string          `json:"owner"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func decodeGuardRequest(w http.ResponseWriter, r *http.Request) (guardRequest, bool) {
	var req guardRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.Actor = strings.TrimSpace(req.Actor)
	req.Action = strings.TrimSpace(req.Action)
	if req.Actor == "" || req.Action == "" {
		writeError(w, "actor and action are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGuardRequest(w, r)
	if !ok {
		return
	}
	if err := s.deps.Gate.Admit(r.Context(), req.Actor, req.Action); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) record(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGuardRequest(w, r)
	if !ok {
		return
	}
	if err := s.deps.Gate.Complete(r.Context(), req.Actor, req.Action); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) raiseEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	event, err := domain.DecodeEvent(req.Event, req.Data)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.deps.Gate.Raise(r.Context(), owner, event)
	w.WriteHeader(http.StatusAccepted)
}
