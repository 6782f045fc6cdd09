package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func useTempSettingsFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "settings.json")
	orig := settingsFilePath
	origCfg := GetConfig()
	settingsFilePath = path
	t.Cleanup(func() {
		settingsFilePath = orig
		configValue.Store(origCfg)
	})
	return path
}

func TestReadSettingsSeedsDefaults(t *testing.T) {
	path := useTempSettingsFile(t)

	ReadSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("settings file was not created: %v", err)
	}
	if string(data) != string(defaultConfig) {
		t.Fatal("seeded settings file does not match embedded defaults")
	}
	if GetConfig().RateLimits["comment"].Limit != 30 {
		t.Fatalf("comment limit = %d, want 30", GetConfig().RateLimits["comment"].Limit)
	}
}

func TestSetConfigPersistsAndNotifies(t *testing.T) {
	path := useTempSettingsFile(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	updates := Subscribe()
	<-updates

	cfg := GetConfig()
	cfg.RateLimits = map[string]RateLimit{"post": {Limit: 3, Window: Timer{Minutes: 5}}}
	if err := SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig returned error: %v", err)
	}

	select {
	case got := <-updates:
		if got.RateLimits["post"].Limit != 3 {
			t.Fatalf("listener received post limit %d, want 3", got.RateLimits["post"].Limit)
		}
	default:
		t.Fatal("listener did not receive the update")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted settings: %v", err)
	}
	var persisted Config
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal persisted settings: %v", err)
	}
	if persisted.RateLimits["post"].Limit != 3 {
		t.Fatalf("persisted post limit = %d, want 3", persisted.RateLimits["post"].Limit)
	}
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	useTempSettingsFile(t)

	before := GetConfig()
	bad := before
	bad.RateLimits = map[string]RateLimit{"post": {Limit: -1, Window: Timer{Hours: 1}}}

	if err := SetConfig(bad); err == nil {
		t.Fatal("SetConfig accepted a negative limit")
	}
	if GetConfig().RateLimits["post"].Limit != before.RateLimits["post"].Limit {
		t.Fatal("invalid configuration replaced the active one")
	}
}
