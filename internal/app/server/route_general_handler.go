package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"moltguard/internal/config"
	"moltguard/internal/domain"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			log.Warn("Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listEventNames(w http.ResponseWriter, _ *http.Request) {
	names := domain.EventNames()
	out := make([]string, 0, len(names)+1)
	out = append(out, domain.WildcardEvent)
	for _, name := range names {
		out = append(out, string(name))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"events": out})
}

func getGlobalSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveGlobalSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if !decodeJSON(w, r, &newConfig) {
		return
	}
	if err := newConfig.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.SetConfig(newConfig); err != nil {
		log.Error("Failed to persist settings", "error", err)
		writeError(w, "settings applied but not fully persisted", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, config.GetConfig())
}
