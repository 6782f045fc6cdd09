package abuse

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"moltguard/internal/ratelimit"

	"github.com/charmbracelet/log"
)

// ActorFunc resolves the acting identity of a request.
type ActorFunc func(*http.Request) (string, error)

// Middleware guards next with actionType. The action is recorded only when
// next answers with a status below 400.
func (g *Gate) Middleware(actionType string, actorOf ActorFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil || actor == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := g.Admit(r.Context(), actor, actionType); err != nil {
			WriteError(w, err, g.Now())
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status < http.StatusBadRequest {
			if err := g.Complete(r.Context(), actor, actionType); err != nil {
				log.Error("Failed to record action", "actor", actor, "action", actionType, "error", err)
			}
		}
	})
}

type denialBody struct {
	Error        string     `json:"error"`
	Reason       string     `json:"reason,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Limit        *int       `json:"limit,omitempty"`
	Remaining    *int       `json:"remaining,omitempty"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	RetryAfter   int64      `json:"retry_after,omitempty"`
}

// WriteError renders a gate error as JSON: 403 for access denials, 429 for
// rate limits, 400 for unknown action types.
func WriteError(w http.ResponseWriter, err error, now time.Time) {
	var denied *AccessDeniedError
	var limited *RateLimitedError

	switch {
	case errors.As(err, &denied):
		body := denialBody{Error: "access_denied", Reason: denied.Reason, BlockedUntil: denied.BlockedUntil}
		if wait := denied.RetryAfter(now); wait > 0 {
			body.RetryAfter = int64(wait / time.Second)
			w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfter, 10))
		}
		writeJSON(w, http.StatusForbidden, body)
	case errors.As(err, &limited):
		wait := limited.RetryAfter(now)
		body := denialBody{
			Error:      "rate_limited",
			Limit:      &limited.Limit,
			Remaining:  &limited.Remaining,
			ResetAt:    &limited.ResetAt,
			RetryAfter: int64(wait / time.Second),
		}
		w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfter, 10))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limited.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limited.Remaining))
		writeJSON(w, http.StatusTooManyRequests, body)
	case errors.Is(err, ratelimit.ErrUnknownAction):
		writeJSON(w, http.StatusBadRequest, denialBody{Error: "unknown_action"})
	default:
		writeJSON(w, http.StatusInternalServerError, denialBody{Error: "internal_error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
