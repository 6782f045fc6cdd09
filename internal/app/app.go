package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"moltguard/internal/abuse"
	"moltguard/internal/accessguard"
	"moltguard/internal/anomaly"
	"moltguard/internal/app/server"
	"moltguard/internal/config"
	"moltguard/internal/database"
	"moltguard/internal/jobs/maintenance"
	"moltguard/internal/ratelimit"
	"moltguard/internal/support"
	"moltguard/internal/webhooks"
)

const (
	defaultBackendPort = 8082
	drainTimeout       = 20 * time.Second

	backendSQL   = "sql"
	backendRedis = "redis"
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	portFlag := flag.Int("port", defaultBackendPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	production := productionMode(*productionFlag)
	config.SetProductionMode(production)
	if production {
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(log.DebugLevel)
	}
	config.ReadSettings()

	port := resolvePort("BACKEND_PORT", "PORT", *portFlag)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.SetupDB()
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	backend := counterBackend()
	redisClient, err := support.GetRedisClient()
	if err != nil {
		if backend == backendRedis {
			return fmt.Errorf("failed to get redis client: %w", err)
		}
		log.Warn("Redis unavailable, running single-instance", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		config.EnableRedisSynchronization(ctx, redisClient)
	}

	counters, err := newCounterStore(backend, db, redisClient)
	if err != nil {
		return err
	}

	blocks := database.NewBlockStore(db)
	suspicion := database.NewSuspiciousEventStore(db)
	subscriptions := database.NewSubscriptionStore(db)

	detector := anomaly.NewDetector(anomaly.OptionsFromConfig(config.GetConfig().Anomaly))
	guard := accessguard.New(blocks, nil)
	registry := webhooks.NewRegistry(subscriptions, webhooks.RegistryOptions{})
	dispatcher := webhooks.NewDispatcher(subscriptions, webhooks.DispatcherOptions{})
	gate := abuse.NewGate(abuse.Options{
		Guard:      guard,
		Detector:   detector,
		Limiter:    ratelimit.NewLimiter(counters, ratelimit.Options{Policies: ratelimit.ConfigPolicies()}),
		Suspicion:  suspicion,
		Dispatcher: dispatcher,
		Penalty:    func() time.Duration { return config.GetConfig().Anomaly.BlockPenalty() },
	})

	handler := server.NewRouter(server.Deps{
		Gate:      gate,
		Guard:     guard,
		Registry:  registry,
		Blocks:    blocks,
		Suspicion: suspicion,
		Health:    healthCheck(db, redisClient),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(groupCtx, port, handler)
	})
	group.Go(func() error {
		watchAnomalySettings(groupCtx, detector, config.Subscribe())
		return nil
	})
	if sweeper, ok := counters.(maintenance.WindowStore); ok {
		group.Go(func() error {
			maintenance.StartRateWindowSweepRoutine(groupCtx, redisClient, maintenance.NewRateWindowSweep(sweeper, nil))
			return nil
		})
	}

	runErr := group.Wait()
	return errors.Join(runErr, shutdown(dispatcher, db, redisClient != nil))
}

// productionMode honours the flag and the PRODUCTION env override.
func productionMode(flagValue bool) bool {
	return flagValue || support.GetEnvBool("PRODUCTION", false)
}

func counterBackend() string {
	backend := strings.ToLower(strings.TrimSpace(support.GetEnv("RATE_LIMIT_BACKEND", backendSQL)))
	if backend == "" {
		return backendSQL
	}
	return backend
}

func newCounterStore(backend string, db *gorm.DB, client *redis.Client) (ratelimit.CounterStore, error) {
	switch backend {
	case backendSQL:
		return database.NewRateWindowStore(db), nil
	case backendRedis:
		if client == nil {
			return nil, errors.New("rate limit backend redis requires a redis client")
		}
		return ratelimit.NewRedisCounterStore(client), nil
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", backend)
	}
}

// watchAnomalySettings applies detector changes from settings updates until ctx ends.
func watchAnomalySettings(ctx context.Context, detector *anomaly.Detector, updates <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			detector.Configure(anomaly.OptionsFromConfig(cfg.Anomaly))
			log.Debug("Anomaly settings applied")
		}
	}
}

func healthCheck(db *gorm.DB, client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

func shutdown(dispatcher *webhooks.Dispatcher, db *gorm.DB, withRedis bool) error {
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	var errs []error
	if err := dispatcher.Wait(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain webhook deliveries: %w", err))
	}

	if withRedis {
		config.DisableRedisSynchronization()
		if err := support.CloseRedisClient(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	log.Info("Shutdown complete")
	return errors.Join(errs...)
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
