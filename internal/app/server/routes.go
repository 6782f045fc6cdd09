package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moltguard/internal/abuse"
	"moltguard/internal/accessguard"
	"moltguard/internal/auth"
	"moltguard/internal/database"
	"moltguard/internal/domain"
	"moltguard/internal/ratelimit"
	"moltguard/internal/webhooks"
)

const (
	maxRequestBody  = 1 << 20
	shutdownTimeout = 15 * time.Second

	webhookActionType = "webhook"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Gate      *abuse.Gate
	Guard     *accessguard.Guard
	Registry  *webhooks.Registry
	Blocks    *database.BlockStore
	Suspicion *database.SuspiciousEventStore
	// Health reports whether backing stores are reachable.
	Health func(context.Context) error
}

type Server struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps component errors onto HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *webhooks.ValidationError
	var denied *abuse.AccessDeniedError
	var limited *abuse.RateLimitedError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Reason, "field": verr.Field})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUnknownEvent), errors.Is(err, ratelimit.ErrUnknownAction):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &denied), errors.As(err, &limited):
		abuse.WriteError(w, err, s.deps.Gate.Now())
	default:
		log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter wires every route onto a ServeMux.
func NewRouter(deps Deps) http.Handler {
	s := &Server{deps: deps}
	service := auth.RequireRole(auth.RoleService, auth.RoleAdmin)

	router := http.NewServeMux()
	router.HandleFunc("GET /healthz", s.healthz)
	router.HandleFunc("GET /version", getVersion)
	router.Handle("GET /metrics", promhttp.Handler())

	router.Handle("POST /v1/guard/admit", service(http.HandlerFunc(s.admit)))
	router.Handle("POST /v1/guard/record", service(http.HandlerFunc(s.record)))
	router.Handle("POST /v1/events", service(http.HandlerFunc(s.raiseEvent)))

	router.HandleFunc("GET /v1/webhooks/events", listEventNames)
	router.Handle("POST /v1/webhooks", auth.RequireAuth(deps.Gate.Middleware(webhookActionType, auth.ActorFromRequest, http.HandlerFunc(s.createWebhook))))
	router.Handle("GET /v1/webhooks", auth.RequireAuth(http.HandlerFunc(s.listWebhooks)))
	router.Handle("GET /v1/webhooks/{id}", auth.RequireAuth(http.HandlerFunc(s.getWebhook)))
	router.Handle("PATCH /v1/webhooks/{id}", auth.RequireAuth(http.HandlerFunc(s.updateWebhook)))
	router.Handle("DELETE /v1/webhooks/{id}", auth.RequireAuth(http.HandlerFunc(s.deleteWebhook)))
	router.Handle("GET /v1/webhooks/{id}/deliveries", auth.RequireAuth(http.HandlerFunc(s.listDeliveries)))

	router.Handle("GET /v1/admin/blocks/{actor}", auth.IsAdmin(http.HandlerFunc(s.getActorBlocks)))
	router.Handle("POST /v1/admin/blocks", auth.IsAdmin(http.HandlerFunc(s.createBlock)))
	router.Handle("GET /v1/admin/settings", auth.IsAdmin(http.HandlerFunc(getGlobalSettings)))
	router.Handle("POST /v1/admin/settings", auth.IsAdmin(http.HandlerFunc(saveGlobalSettings)))

	log.Debug("Routes opened")
	return enableCORS(router)
}

// Serve listens on port until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting moltguard on port :%d", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return <-errCh
}
