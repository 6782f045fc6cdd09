package database

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"moltguard/internal/domain"
	"moltguard/internal/security"

	"gorm.io/gorm"
)

func seedSubscription(t *testing.T, store *SubscriptionStore, id, owner string) domain.Subscription {
	t.Helper()

	sub := domain.Subscription{
		ID:          id,
		OwnerActor:  owner,
		URL:         "https://hooks.example.com/" + id,
		Secret:      "whsec_test",
		EventFilter: domain.StringList{"post.created"},
		Active:      true,
	}
	if err := store.CreateSubscription(context.Background(), &sub); err != nil {
		t.Fatalf("CreateSubscription(%s): %v", id, err)
	}
	return sub
}

func TestSubscriptionSecretEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	seedSubscription(t, store, "sub-1", "bot-1")

	var raw string
	if err := db.Raw("SELECT secret FROM webhook_subscriptions WHERE id = ?", "sub-1").Scan(&raw).Error; err != nil {
		t.Fatalf("read raw secret: %v", err)
	}
	if raw == "whsec_test" || !strings.HasPrefix(raw, security.SealedSecretPrefix) {
		t.Fatalf("stored secret %q is not encrypted", raw)
	}

	sub, err := store.GetSubscription(context.Background(), "bot-1", "sub-1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.Secret != "whsec_test" {
		t.Fatalf("decrypted secret = %q, want whsec_test", sub.Secret)
	}
}

func TestSubscriptionRejectsUnsealedStoredSecret(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	seedSubscription(t, store, "sub-1", "bot-1")

	if err := db.Exec("UPDATE webhook_subscriptions SET secret = ? WHERE id = ?", "whsec_planted", "sub-1").Error; err != nil {
		t.Fatalf("plant plaintext secret: %v", err)
	}

	if _, err := store.GetSubscription(context.Background(), "bot-1", "sub-1"); !errors.Is(err, security.ErrSecretUnsealed) {
		t.Fatalf("GetSubscription err = %v, want ErrSecretUnsealed", err)
	}
}

func TestSubscriptionSecretBoundToRow(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	seedSubscription(t, store, "sub-1", "bot-1")
	seedSubscription(t, store, "sub-2", "bot-1")

	if err := db.Exec("UPDATE webhook_subscriptions SET secret = (SELECT secret FROM webhook_subscriptions WHERE id = ?) WHERE id = ?", "sub-1", "sub-2").Error; err != nil {
		t.Fatalf("copy sealed secret: %v", err)
	}

	if _, err := store.GetSubscription(context.Background(), "bot-1", "sub-2"); !errors.Is(err, security.ErrSecretCorrupt) {
		t.Fatalf("GetSubscription err = %v, want ErrSecretCorrupt", err)
	}
}

func TestSubscriptionOwnerScoping(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "bot-1")
	seedSubscription(t, store, "sub-2", "bot-2")

	if _, err := store.GetSubscription(ctx, "bot-2", "sub-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetSubscription by other owner err = %v, want ErrNotFound", err)
	}

	active := false
	if _, err := store.UpdateSubscription(ctx, "bot-2", "sub-1", domain.SubscriptionPatch{Active: &active}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateSubscription by other owner err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteSubscription(ctx, "bot-2", "sub-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("DeleteSubscription by other owner err = %v, want ErrNotFound", err)
	}

	subs, err := store.ListSubscriptions(ctx, "bot-1")
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "sub-1" {
		t.Fatalf("ListSubscriptions(bot-1) = %+v, want only sub-1", subs)
	}
}

func TestRecordDeliveryOutcomeDeactivatesAtThreshold(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "bot-1")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		sub, err := store.RecordDeliveryOutcome(ctx, "sub-1", false, at, 3)
		if err != nil {
			t.Fatalf("RecordDeliveryOutcome #%d: %v", i, err)
		}
		if sub.ConsecutiveFailures != i {
			t.Fatalf("after %d failures ConsecutiveFailures = %d", i, sub.ConsecutiveFailures)
		}
		wantActive := i < 3
		if sub.Active != wantActive {
			t.Fatalf("after %d failures Active = %v, want %v", i, sub.Active, wantActive)
		}
	}

	active, err := store.ListActiveSubscriptions(ctx, "bot-1")
	if err != nil {
		t.Fatalf("ListActiveSubscriptions: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("ListActiveSubscriptions returned %d, want 0", len(active))
	}
}

func TestRecordDeliveryOutcomeSuccessResetsStreak(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "bot-1")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := store.RecordDeliveryOutcome(ctx, "sub-1", false, at, 10); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	sub, err := store.RecordDeliveryOutcome(ctx, "sub-1", true, at, 10)
	if err != nil {
		t.Fatalf("record success: %v", err)
	}
	if sub.ConsecutiveFailures != 0 || !sub.Active {
		t.Fatalf("after success got failures=%d active=%v", sub.ConsecutiveFailures, sub.Active)
	}
	if sub.LastTriggeredAt == nil || !sub.LastTriggeredAt.Equal(at) {
		t.Fatalf("LastTriggeredAt = %v, want %v", sub.LastTriggeredAt, at)
	}
	if sub.Secret != "whsec_test" {
		t.Fatalf("secret after outcome = %q, want whsec_test", sub.Secret)
	}

	if _, err := store.RecordDeliveryOutcome(ctx, "missing", true, at, 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown subscription err = %v, want ErrNotFound", err)
	}
}

func TestUpdateSubscriptionReactivationClearsFailures(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "bot-1")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := store.RecordDeliveryOutcome(ctx, "sub-1", false, at, 2); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	active := true
	url := "https://hooks.example.com/new"
	secret := "whsec_rotated"
	sub, err := store.UpdateSubscription(ctx, "bot-1", "sub-1", domain.SubscriptionPatch{
		URL:         &url,
		Secret:      &secret,
		EventFilter: domain.StringList{"*"},
		Active:      &active,
	})
	if err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}
	if !sub.Active || sub.ConsecutiveFailures != 0 {
		t.Fatalf("reactivated subscription active=%v failures=%d", sub.Active, sub.ConsecutiveFailures)
	}
	if sub.URL != url || sub.Secret != secret {
		t.Fatalf("patched url=%q secret=%q", sub.URL, sub.Secret)
	}
	if !sub.Matches(domain.EventFollowCreated) {
		t.Fatal("wildcard filter should match follow.created")
	}
}

func TestUpdateSubscriptionKeepsStreakWhenAlreadyActive(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "bot-1")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := store.RecordDeliveryOutcome(ctx, "sub-1", false, at, 10); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	active := true
	sub, err := store.UpdateSubscription(ctx, "bot-1", "sub-1", domain.SubscriptionPatch{Active: &active})
	if err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}
	if !sub.Active || sub.ConsecutiveFailures != 3 {
		t.Fatalf("active=%v failures=%d, want streak of 3 kept", sub.Active, sub.ConsecutiveFailures)
	}
}

func TestUpdateSubscriptionClearsStreakOfConcurrentDeactivation(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "bot-1")

	// Deactivate the row after UpdateSubscription has read it as active,
	// the way a dispatcher hitting the threshold at that moment would.
	var once sync.Once
	err := db.Callback().Update().Before("gorm:update").Register("test:deactivate", func(tx *gorm.DB) {
		if tx.Statement.Table != "webhook_subscriptions" {
			return
		}
		once.Do(func() {
			raw := tx.Session(&gorm.Session{NewDB: true})
			if err := raw.Exec("UPDATE webhook_subscriptions SET active = ?, consecutive_failures = ? WHERE id = ?", false, 10, "sub-1").Error; err != nil {
				t.Errorf("deactivate: %v", err)
			}
		})
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	active := true
	sub, err := store.UpdateSubscription(ctx, "bot-1", "sub-1", domain.SubscriptionPatch{Active: &active})
	if err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}
	if !sub.Active || sub.ConsecutiveFailures != 0 {
		t.Fatalf("active=%v failures=%d, want reactivated with cleared streak", sub.Active, sub.ConsecutiveFailures)
	}
}

func TestDeleteSubscriptionRemovesDeliveries(t *testing.T) {
	db := setupTestDB(t)
	store := NewSubscriptionStore(db)
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "bot-1")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		attempt := domain.DeliveryAttempt{
			SubscriptionID: "sub-1",
			DeliveryID:     "d-" + string(rune('a'+i)),
			Event:          "post.created",
			Success:        true,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertDeliveryAttempt(ctx, &attempt); err != nil {
			t.Fatalf("InsertDeliveryAttempt: %v", err)
		}
	}

	recent, err := store.RecentDeliveryAttempts(ctx, "sub-1", 2)
	if err != nil {
		t.Fatalf("RecentDeliveryAttempts: %v", err)
	}
	if len(recent) != 2 || recent[0].DeliveryID != "d-c" {
		t.Fatalf("RecentDeliveryAttempts = %+v, want newest first limited to 2", recent)
	}

	if err := store.DeleteSubscription(ctx, "bot-1", "sub-1"); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}

	var remaining int64
	if err := db.Model(&domain.DeliveryAttempt{}).Where("subscription_id = ?", "sub-1").Count(&remaining).Error; err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("%d delivery attempts survived delete", remaining)
	}
}
