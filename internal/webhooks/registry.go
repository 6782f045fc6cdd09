package webhooks

import (
	"context"
	"fmt"
	"time"

	"moltguard/internal/config"
	"moltguard/internal/domain"
	"moltguard/internal/security"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const defaultRecentDeliveries = 20

// SubscriptionStore is satisfied by *database.SubscriptionStore.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscription(ctx context.Context, owner, id string) (domain.Subscription, error)
	ListSubscriptions(ctx context.Context, owner string) ([]domain.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, owner string) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, owner, id string, patch domain.SubscriptionPatch) (domain.Subscription, error)
	DeleteSubscription(ctx context.Context, owner, id string) error
	RecentDeliveryAttempts(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error)
}

// CreateRequest describes a new subscription. A nil Secret asks for a
// generated one; an empty Secret creates an unsigned subscription.
type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret *string  `json:"secret,omitempty"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	URL    *string  `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
	Secret *string  `json:"secret,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

// Registry manages subscriptions on behalf of their owners. A subscription
// owned by someone else is indistinguishable from a missing one.
type Registry struct {
	store     SubscriptionStore
	validator *URLValidator
	newID     func() string
	now       func() time.Time
}

type RegistryOptions struct {
	Resolver Resolver
	NewID    func() string
	Now      func() time.Time
}

func NewRegistry(store SubscriptionStore, opts RegistryOptions) *Registry {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		store:     store,
		validator: NewURLValidator(opts.Resolver),
		newID:     opts.NewID,
		now:       opts.Now,
	}
}

// Create validates and stores a subscription. The returned value carries
// the plaintext secret; it is the only time the secret is handed out.
func (r *Registry) Create(ctx context.Context, owner string, req CreateRequest) (domain.Subscription, error) {
	target, err := r.validator.Validate(ctx, req.URL)
	if err != nil {
		return domain.Subscription{}, err
	}
	filter, err := NormalizeEventFilter(req.Events)
	if err != nil {
		return domain.Subscription{}, err
	}

	var secret string
	if req.Secret == nil {
		secret, err = security.GenerateWebhookSecret()
		if err != nil {
			return domain.Subscription{}, fmt.Errorf("webhooks: generate secret: %w", err)
		}
	} else {
		secret = *req.Secret
	}

	now := r.now().UTC()
	sub := domain.Subscription{
		ID:          r.newID(),
		OwnerActor:  owner,
		URL:         target,
		Secret:      secret,
		EventFilter: filter,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateSubscription(ctx, &sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("webhooks: create subscription: %w", err)
	}

	log.Info("Webhook subscription created", "owner", owner, "id", sub.ID, "events", []string(sub.EventFilter))
	return sub, nil
}

func (r *Registry) Get(ctx context.Context, owner, id string) (domain.Subscription, error) {
	return r.store.GetSubscription(ctx, owner, id)
}

func (r *Registry) List(ctx context.Context, owner string) ([]domain.Subscription, error) {
	return r.store.ListSubscriptions(ctx, owner)
}

func (r *Registry) ListActiveForOwner(ctx context.Context, owner string) ([]domain.Subscription, error) {
	return r.store.ListActiveSubscriptions(ctx, owner)
}

// Update applies the same validation as Create to every field it changes.
func (r *Registry) Update(ctx context.Context, owner, id string, req UpdateRequest) (domain.Subscription, error) {
	var patch domain.SubscriptionPatch

	if req.URL != nil {
		target, err := r.validator.Validate(ctx, *req.URL)
		if err != nil {
			return domain.Subscription{}, err
		}
		patch.URL = &target
	}
	if req.Events != nil {
		filter, err := NormalizeEventFilter(req.Events)
		if err != nil {
			return domain.Subscription{}, err
		}
		patch.EventFilter = filter
	}
	patch.Secret = req.Secret
	patch.Active = req.Active

	if patch.Empty() {
		return r.store.GetSubscription(ctx, owner, id)
	}

	sub, err := r.store.UpdateSubscription(ctx, owner, id, patch)
	if err != nil {
		return domain.Subscription{}, err
	}
	log.Info("Webhook subscription updated", "owner", owner, "id", id, "active", sub.Active)
	return sub, nil
}

func (r *Registry) Delete(ctx context.Context, owner, id string) error {
	if err := r.store.DeleteSubscription(ctx, owner, id); err != nil {
		return err
	}
	log.Info("Webhook subscription deleted", "owner", owner, "id", id)
	return nil
}

// Deliveries returns the most recent attempts for an owned subscription,
// newest first.
func (r *Registry) Deliveries(ctx context.Context, owner, id string) ([]domain.DeliveryAttempt, error) {
	if _, err := r.store.GetSubscription(ctx, owner, id); err != nil {
		return nil, err
	}

	limit := config.GetConfig().Webhooks.RecentDeliveries
	if limit <= 0 {
		limit = defaultRecentDeliveries
	}
	return r.store.RecentDeliveryAttempts(ctx, id, limit)
}
