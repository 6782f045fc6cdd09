package server

import (
	"net/http"
	"time"

	"moltguard/internal/auth"
	"moltguard/internal/domain"
	"moltguard/internal/webhooks"
)

type subscriptionView struct {
	ID                  string     `json:"id"`
	URL                 string     `json:"url"`
	Events              []string   `json:"events"`
	Active              bool       `json:"active"`
	Signed              bool       `json:"signed"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastTriggeredAt     *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Secret              string     `json:"secret,omitempty"`
}

func newSubscriptionView(sub domain.Subscription) subscriptionView {
	return subscriptionView{
		ID:                  sub.ID,
		URL:                 sub.URL,
		Events:              sub.EventFilter.Clone(),
		Active:              sub.Active,
		Signed:              sub.HasSecret(),
		ConsecutiveFailures: sub.ConsecutiveFailures,
		LastTriggeredAt:     sub.LastTriggeredAt,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}
}

func requestActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor, err := auth.ActorFromRequest(r)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return actor, true
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestActor(w, r)
	if !ok {
		return
	}

	var req webhooks.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := s.deps.Registry.Create(r.Context(), owner, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	view := newSubscriptionView(sub)
	view.Secret = sub.Secret
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestActor(w, r)
	if !ok {
		return
	}

	subs, err := s.deps.Registry.List(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, newSubscriptionView(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": views})
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestActor(w, r)
	if !ok {
		return
	}

	sub, err := s.deps.Registry.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub))
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestActor(w, r)
	if !ok {
		return
	}

	var req webhooks.UpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := s.deps.Registry.Update(r.Context(), owner, r.PathValue("id"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub))
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestActor(w, r)
	if !ok {
		return
	}

	if err := s.deps.Registry.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestActor(w, r)
	if !ok {
		return
	}

	attempts, err := s.deps.Registry.Deliveries(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": attempts})
}
