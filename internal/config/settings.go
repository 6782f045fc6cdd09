package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	RateLimits  map[string]RateLimit `json:"rate_limits"`
	Anomaly     AnomalyConfig        `json:"anomaly"`
	Webhooks    WebhookConfig        `json:"webhooks"`
	Maintenance MaintenanceConfig    `json:"maintenance"`
}

type RateLimit struct {
	Limit  int   `json:"limit"`
	Window Timer `json:"window"`
}

type AnomalyConfig struct {
	MinIntervalMs      uint32 `json:"min_interval_ms"`
	PerMinuteThreshold int    `json:"per_minute_threshold"`
	Horizon            Timer  `json:"horizon"`
	MaxTrackedKeys     int    `json:"max_tracked_keys"`
	BlockDuration      Timer  `json:"block_duration"`
}

type WebhookConfig struct {
	DeactivationThreshold int      `json:"deactivation_threshold"`
	Timeout               Timer    `json:"timeout"`
	ExcerptBytes          int      `json:"excerpt_bytes"`
	RecentDeliveries      int      `json:"recent_deliveries"`
	UserAgent             string   `json:"user_agent"`
	BlockedHosts          []string `json:"blocked_hosts"`
}

type MaintenanceConfig struct {
	RateWindowRetention Timer `json:"rate_window_retention"`
	SweepTimer          Timer `json:"sweep_timer"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	settingsFilePath = defaultSettingsFilePath

	listenersMu     sync.Mutex
	configListeners []chan Config

	InProductionMode bool
)

func init() {
	cfg, err := DefaultConfig()
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	configValue.Store(cfg)
	updateHostBlocklist(cfg.Webhooks.BlockedHosts)
}

// DefaultConfig returns the embedded default settings.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadSettings loads the settings file, seeding it from the embedded defaults
// when it does not exist yet.
func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Error reading settings file", "error", err)
			return
		}

		log.Warn("Settings file not found, creating with default configuration", "path", settingsFilePath)
		if err := os.MkdirAll(filepath.Dir(settingsFilePath), 0o755); err != nil {
			log.Error("Error creating directory for settings file", "error", err)
			return
		}
		if err := os.WriteFile(settingsFilePath, defaultConfig, 0o644); err != nil {
			log.Error("Error writing default settings file", "error", err)
			return
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

// SetConfig replaces the active configuration, persists it and broadcasts it
// to the other instances.
func SetConfig(newConfig Config) error {
	return applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"})
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	updateHostBlocklist(newConfig.Webhooks.BlockedHosts)

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal configuration: %w", err))
		} else if err := os.WriteFile(settingsFilePath, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write configuration: %w", err))
		}
	}

	if opts.broadcast {
		if err := publishSettings(newConfig); err != nil {
			errs = append(errs, fmt.Errorf("broadcast configuration: %w", err))
		}
	}

	notifyListeners(newConfig)
	log.Debug("Configuration applied", "source", opts.source)

	return errors.Join(errs...)
}

// Validate rejects settings the guard components cannot run with.
func (c Config) Validate() error {
	for action, limit := range c.RateLimits {
		if action == "" {
			return errors.New("config: rate limit with empty action type")
		}
		if limit.Limit <= 0 {
			return fmt.Errorf("config: rate limit for %q must be positive", action)
		}
		if limit.Window.Duration() <= 0 {
			return fmt.Errorf("config: rate limit window for %q must be positive", action)
		}
	}
	if c.Webhooks.DeactivationThreshold < 0 {
		return errors.New("config: webhook deactivation threshold cannot be negative")
	}
	return nil
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// Subscribe returns a channel that receives every applied configuration. The
// current configuration is delivered immediately.
func Subscribe() <-chan Config {
	ch := make(chan Config, 1)
	listenersMu.Lock()
	configListeners = append(configListeners, ch)
	listenersMu.Unlock()

	ch <- GetConfig()
	return ch
}

func notifyListeners(cfg Config) {
	listenersMu.Lock()
	defer listenersMu.Unlock()

	for _, ch := range configListeners {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
