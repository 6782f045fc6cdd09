package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisStateKey      = "moltguard:config:state"
	redisRevisionKey   = "moltguard:config:revision"
	redisConfigChannel = "moltguard:config:updates"
	redisOpTimeout     = 5 * time.Second
)

// storeScript keeps the highest revision in the state hash and only announces
// settings that were actually stored.
var storeScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], "revision") or "0")
if tonumber(ARGV[1]) <= current then
	return 0
end
redis.call("HSET", KEYS[1], "revision", ARGV[1], "envelope", ARGV[2])
redis.call("PUBLISH", ARGV[3], ARGV[2])
return 1`)

// settingsEnvelope is the unit instances exchange. Revisions come from a
// shared counter so a late delivery never rolls settings back.
type settingsEnvelope struct {
	Origin   string `json:"origin"`
	Revision int64  `json:"revision"`
	Settings Config `json:"settings"`
}

type settingsSync struct {
	client *redis.Client
	origin string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	revision int64
}

var (
	syncMu     sync.RWMutex
	activeSync *settingsSync
)

func newSettingsSync(ctx context.Context, client *redis.Client) *settingsSync {
	syncCtx, cancel := context.WithCancel(ctx)
	return &settingsSync{client: client, origin: uuid.NewString(), ctx: syncCtx, cancel: cancel}
}

// EnableRedisSynchronization shares settings changes between instances. The
// stored settings win over the local file on startup; when none are stored
// yet the local ones are published.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	syncMu.Lock()
	if activeSync != nil {
		syncMu.Unlock()
		return
	}
	s := newSettingsSync(ctx, client)
	activeSync = s
	syncMu.Unlock()

	loaded, err := s.loadStored()
	if err != nil {
		log.Error("Config sync: failed to load settings from redis", "error", err)
	}
	if !loaded {
		if err := s.publish(GetConfig()); err != nil {
			log.Error("Config sync: failed to publish settings to redis", "error", err)
		}
	}

	go s.subscribe()
}

// DisableRedisSynchronization stops the update subscription.
func DisableRedisSynchronization() {
	syncMu.Lock()
	defer syncMu.Unlock()

	if activeSync != nil {
		activeSync.cancel()
		activeSync = nil
	}
}

// publishSettings announces cfg when synchronization is enabled.
func publishSettings(cfg Config) error {
	syncMu.RLock()
	s := activeSync
	syncMu.RUnlock()

	if s == nil {
		return nil
	}
	return s.publish(cfg)
}

func (s *settingsSync) opContext() (context.Context, context.CancelFunc) {
	base := s.ctx
	if base.Err() != nil {
		base = context.Background()
	}
	return context.WithTimeout(base, redisOpTimeout)
}

func (s *settingsSync) loadStored() (bool, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	payload, err := s.client.HGet(ctx, redisStateKey, "envelope").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	env, err := decodeEnvelope([]byte(payload))
	if err != nil {
		return true, err
	}
	// stored settings are applied even when this instance wrote them
	s.observe(env.Revision)
	return true, applyConfigUpdate(env.Settings, configUpdateOptions{persistToFile: true, source: "redis"})
}

func (s *settingsSync) publish(cfg Config) error {
	ctx, cancel := s.opContext()
	defer cancel()

	revision, err := s.client.Incr(ctx, redisRevisionKey).Result()
	if err != nil {
		return fmt.Errorf("allocate settings revision: %w", err)
	}

	payload, err := json.Marshal(settingsEnvelope{Origin: s.origin, Revision: revision, Settings: cfg})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	stored, err := storeScript.Run(ctx, s.client, []string{redisStateKey}, revision, payload, redisConfigChannel).Int()
	if err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	s.observe(revision)
	if stored == 0 {
		log.Debug("Config sync: newer settings already stored", "revision", revision)
	}
	return nil
}

func (s *settingsSync) subscribe() {
	pubsub := s.client.Subscribe(s.ctx, redisConfigChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		env, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			log.Error("Config sync: invalid payload", "error", err)
			continue
		}
		if !s.accept(env) {
			continue
		}

		if err := applyConfigUpdate(env.Settings, configUpdateOptions{persistToFile: true, source: "redis"}); err != nil {
			log.Error("Config sync: failed to apply remote settings", "revision", env.Revision, "error", err)
		}
	}
}

// accept reports whether env is news to this instance. Echoes of its own
// publications and revisions at or below the last one seen are dropped.
func (s *settingsSync) accept(env settingsEnvelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.Origin == s.origin || env.Revision <= s.revision {
		return false
	}
	s.revision = env.Revision
	return true
}

func (s *settingsSync) observe(revision int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if revision > s.revision {
		s.revision = revision
	}
}

func decodeEnvelope(payload []byte) (settingsEnvelope, error) {
	var env settingsEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, err
	}
	if env.Origin == "" || env.Revision <= 0 {
		return env, errors.New("config: settings envelope without origin or revision")
	}
	return env, nil
}
