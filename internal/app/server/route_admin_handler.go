package server

import (
	"net/http"
	"strings"
	"time"

	"moltguard/internal/domain"
)

const adminHistoryLimit = 50

type blockRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
	// DurationSeconds of zero or less blocks permanently.
	DurationSeconds int64 `json:"duration_seconds"`
}

func (s *Server) getActorBlocks(w http.ResponseWriter, r *http.Request) {
	actor := strings.TrimSpace(r.PathValue("actor"))
	if actor == "" {
		writeError(w, "actor is required", http.StatusBadRequest)
		return
	}

	status, err := s.deps.Guard.IsBlocked(r.Context(), actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	history, err := s.deps.Blocks.ListBlocks(r.Context(), actor, adminHistoryLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	suspicious, err := s.deps.Suspicion.ListSuspiciousEvents(r.Context(), actor, adminHistoryLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.Block{}
	}
	if suspicious == nil {
		suspicious = []domain.SuspiciousEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"blocks":            history,
		"suspicious_events": suspicious,
	})
}

func (s *Server) createBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = strings.TrimSpace(req.Actor)
	if req.Actor == "" {
		writeError(w, "actor is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "blocked by administrator"
	}

	block, err := s.deps.Guard.Block(r.Context(), req.Actor, req.Reason, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}
