package config

import (
	"testing"
	"time"
)

func TestCalculateMillisecondsOfPeriod(t *testing.T) {
	timer := Timer{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	want := uint64((24*60*60 + 2*60*60 + 3*60 + 4) * 1000)

	if got := CalculateMillisecondsOfPeriod(timer); got != want {
		t.Fatalf("CalculateMillisecondsOfPeriod returned %d, want %d", got, want)
	}
}

func TestDurationOr(t *testing.T) {
	t.Run("falls back when unset", func(t *testing.T) {
		if got := DurationOr(Timer{}, 5*time.Second); got != 5*time.Second {
			t.Fatalf("DurationOr returned %s, want 5s", got)
		}
	})

	t.Run("returns configured duration", func(t *testing.T) {
		if got := DurationOr(Timer{Minutes: 1, Seconds: 30}, time.Second); got != 90*time.Second {
			t.Fatalf("DurationOr returned %s, want 1m30s", got)
		}
	})
}

func TestDefaultConfigValues(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig returned error: %v", err)
	}

	post, ok := cfg.RateLimits["post"]
	if !ok {
		t.Fatal("default config has no post rate limit")
	}
	if post.Limit != 10 || post.Window.Duration() != time.Hour {
		t.Fatalf("post limit = %d per %s, want 10 per 1h", post.Limit, post.Window.Duration())
	}
	if got := cfg.RateLimits["like"].Limit; got != 50 {
		t.Fatalf("like limit = %d, want 50", got)
	}

	if got := cfg.Anomaly.MinInterval(); got != 500*time.Millisecond {
		t.Fatalf("anomaly min interval = %s, want 500ms", got)
	}
	if got := cfg.Anomaly.HorizonDuration(); got != 2*time.Minute {
		t.Fatalf("anomaly horizon = %s, want 2m", got)
	}
	if got := cfg.Anomaly.BlockPenalty(); got != time.Hour {
		t.Fatalf("anomaly block = %s, want 1h", got)
	}
	if got := cfg.Webhooks.DeliveryTimeout(); got != 10*time.Second {
		t.Fatalf("delivery timeout = %s, want 10s", got)
	}
	if cfg.Webhooks.DeactivationThreshold != 10 {
		t.Fatalf("deactivation threshold = %d, want 10", cfg.Webhooks.DeactivationThreshold)
	}
	if got := cfg.Maintenance.Retention(); got != time.Hour {
		t.Fatalf("retention = %s, want 1h", got)
	}
}

func TestValidateRejectsBadRateLimits(t *testing.T) {
	cases := map[string]Config{
		"zero limit":  {RateLimits: map[string]RateLimit{"post": {Limit: 0, Window: Timer{Hours: 1}}}},
		"zero window": {RateLimits: map[string]RateLimit{"post": {Limit: 5}}},
		"empty name":  {RateLimits: map[string]RateLimit{"": {Limit: 5, Window: Timer{Hours: 1}}}},
	}

	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate returned nil, want error", name)
		}
	}
}

func TestWebhookThresholdFallsBack(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		want       int
	}{
		{name: "omitted", configured: 0, want: 10},
		{name: "negative", configured: -3, want: 10},
		{name: "configured", configured: 4, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := WebhookConfig{DeactivationThreshold: tt.configured}
			if got := cfg.Threshold(); got != tt.want {
				t.Fatalf("Threshold returned %d, want %d", got, tt.want)
			}
		})
	}
}
