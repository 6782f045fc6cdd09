package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"moltguard/internal/config"
	"moltguard/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	defaultExcerptBytes = 1024
	defaultUserAgent    = "Moltgram-Webhooks/1.0"
	timestampLayout     = "2006-01-02T15:04:05.000Z07:00"
)

// DeliveryStore is satisfied by *database.SubscriptionStore.
type DeliveryStore interface {
	ListActiveSubscriptions(ctx context.Context, owner string) ([]domain.Subscription, error)
	InsertDeliveryAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
	RecordDeliveryOutcome(ctx context.Context, id string, success bool, at time.Time, threshold int) (domain.Subscription, error)
}

type envelope struct {
	Event     domain.EventName `json:"event"`
	Timestamp string           `json:"timestamp"`
	Data      domain.Event     `json:"data"`
}

type DispatcherOptions struct {
	// Client overrides the outbound client. The default refuses private
	// targets and does not follow redirects.
	Client        *http.Client
	Now           func() time.Time
	NewDeliveryID func() string
	Settings      func() config.WebhookConfig
}

// Dispatcher fans events out to matching subscriptions. Each delivery runs
// in its own goroutine with its own timeout; callers never observe the
// outcome.
type Dispatcher struct {
	store    DeliveryStore
	client   *http.Client
	now      func() time.Time
	newID    func() string
	settings func() config.WebhookConfig

	wg sync.WaitGroup
}

func NewDispatcher(store DeliveryStore, opts DispatcherOptions) *Dispatcher {
	if opts.Settings == nil {
		opts.Settings = func() config.WebhookConfig { return config.GetConfig().Webhooks }
	}
	if opts.Client == nil {
		opts.Client = NewSafeClient(opts.Settings().DeliveryTimeout())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewDeliveryID == nil {
		opts.NewDeliveryID = uuid.NewString
	}
	return &Dispatcher{
		store:    store,
		client:   opts.Client,
		now:      opts.Now,
		newID:    opts.NewDeliveryID,
		settings: opts.Settings,
	}
}

// Dispatch returns immediately. Cancelling ctx after the call does not
// abort deliveries already started.
func (d *Dispatcher) Dispatch(ctx context.Context, owner string, event domain.Event) {
	if event == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.recoverUnit("fan-out", owner, event.Name())
		d.fanOut(ctx, owner, event)
	}()
}

// Wait blocks until every dispatched delivery has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, owner string, event domain.Event) {
	subs, err := d.store.ListActiveSubscriptions(ctx, owner)
	if err != nil {
		log.Error("Failed to load webhook subscriptions", "owner", owner, "event", event.Name(), "error", err)
		return
	}

	var matching []domain.Subscription
	for _, sub := range subs {
		if sub.Matches(event.Name()) {
			matching = append(matching, sub)
		}
	}
	if len(matching) == 0 {
		return
	}

	body, err := json.Marshal(envelope{
		Event:     event.Name(),
		Timestamp: d.now().UTC().Format(timestampLayout),
		Data:      event,
	})
	if err != nil {
		log.Error("Failed to encode webhook payload", "owner", owner, "event", event.Name(), "error", err)
		return
	}

	for _, sub := range matching {
		d.wg.Add(1)
		go func(sub domain.Subscription) {
			defer d.wg.Done()
			defer d.recoverUnit("delivery", owner, event.Name())
			d.deliver(ctx, sub, event.Name(), body)
		}(sub)
	}
}

type deliveryResult struct {
	statusCode *int
	response   string
	success    bool
}

// status is the response code, or 0 when no response arrived.
func (r deliveryResult) status() int {
	if r.statusCode == nil {
		return 0
	}
	return *r.statusCode
}

func (d *Dispatcher) deliver(ctx context.Context, sub domain.Subscription, name domain.EventName, body []byte) {
	settings := d.settings()
	deliveryID := d.newID()
	started := d.now()

	result := d.send(ctx, sub, name, deliveryID, body, settings)

	elapsed := d.now().Sub(started)
	outcome := "failure"
	if result.success {
		outcome = "success"
	}
	deliveryCount.WithLabelValues(string(name), outcome).Inc()
	deliveryDuration.WithLabelValues(string(name)).Observe(elapsed.Seconds())

	excerptBytes := settings.ExcerptBytes
	if excerptBytes <= 0 {
		excerptBytes = defaultExcerptBytes
	}

	attempt := domain.DeliveryAttempt{
		SubscriptionID:  sub.ID,
		DeliveryID:      deliveryID,
		Event:           string(name),
		PayloadExcerpt:  excerpt(body, excerptBytes),
		StatusCode:      result.statusCode,
		ResponseExcerpt: excerpt([]byte(result.response), excerptBytes),
		Success:         result.success,
		DurationMs:      elapsed.Milliseconds(),
		CreatedAt:       d.now().UTC(),
	}
	if err := d.store.InsertDeliveryAttempt(ctx, &attempt); err != nil {
		log.Error("Failed to store webhook delivery attempt", "subscription", sub.ID, "delivery", deliveryID, "error", err)
	}

	updated, err := d.store.RecordDeliveryOutcome(ctx, sub.ID, result.success, attempt.CreatedAt, settings.Threshold())
	if err != nil {
		log.Error("Failed to update webhook subscription health", "subscription", sub.ID, "error", err)
		return
	}

	if !result.success {
		log.Warn("Webhook delivery failed",
			"subscription", sub.ID,
			"event", name,
			"status", result.status(),
			"consecutive_failures", updated.ConsecutiveFailures,
		)
		if sub.Active && !updated.Active {
			deactivationCount.Inc()
			log.Warn("Webhook subscription deactivated", "subscription", sub.ID, "owner", sub.OwnerActor, "consecutive_failures", updated.ConsecutiveFailures)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, sub domain.Subscription, name domain.EventName, deliveryID string, body []byte, settings config.WebhookConfig) deliveryResult {
	ctx, cancel := context.WithTimeout(ctx, settings.DeliveryTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return deliveryResult{response: err.Error()}
	}

	userAgent := settings.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderDelivery, deliveryID)
	req.Header.Set(HeaderEvent, string(name))
	if sub.HasSecret() {
		req.Header.Set(HeaderSignature, Sign(sub.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return deliveryResult{response: err.Error()}
	}
	defer resp.Body.Close()

	limit := int64(settings.ExcerptBytes)
	if limit <= 0 {
		limit = defaultExcerptBytes
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, limit))

	status := resp.StatusCode
	return deliveryResult{
		statusCode: &status,
		response:   string(respBody),
		success:    status >= 200 && status < 300,
	}
}

func (d *Dispatcher) recoverUnit(stage, owner string, name domain.EventName) {
	if r := recover(); r != nil {
		dispatchPanicCount.Inc()
		log.Error("Recovered panic in webhook dispatch",
			"stage", stage,
			"owner", owner,
			"event", name,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
	}
}

// excerpt cuts b to at most limit bytes without splitting a UTF-8 sequence.
func excerpt(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	cut := b[:limit]
	for i := 0; i < utf8.UTFMax-1 && len(cut) > 0; i++ {
		if r, _ := utf8.DecodeLastRune(cut); r != utf8.RuneError {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return string(cut)
}
