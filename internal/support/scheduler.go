package support

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeaseTTL = 45 * time.Second

	leaseKeyPrefix  = "moltguard:leader:"
	leaseRetryDelay = time.Second
	leaseOpTimeout  = 5 * time.Second
	fallbackEvery   = time.Minute
)

var errLeaseLost = errors.New("lease no longer held")

// leaseScript extends the lease held by ARGV[1] by ARGV[2] milliseconds, or
// deletes it when ARGV[2] is 0. Returns 0 when another holder owns the key.
var leaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return redis.call("DEL", KEYS[1])`)

// ScheduledJob is maintenance work that must run on at most one instance.
type ScheduledJob interface {
	Name() string
	// Interval is read again after every run so configuration reloads apply.
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Scheduler runs jobs on their interval. With a redis client a job only runs
// on the instance holding its lease; without one every instance runs it.
type Scheduler struct {
	client *redis.Client
	ttl    time.Duration
}

func NewScheduler(client *redis.Client, ttl time.Duration) *Scheduler {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Scheduler{client: client, ttl: ttl}
}

// Run blocks until ctx is done and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context, job ScheduledJob) error {
	if job == nil {
		return errors.New("support: scheduled job cannot be nil")
	}
	if s.client == nil {
		return s.runLocal(ctx, job)
	}

	key := leaseKeyPrefix + job.Name()
	for {
		token, err := s.acquire(ctx, key)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("Lease acquisition failed", "job", job.Name(), "error", err)
		case token != "":
			log.Debug("Lease acquired", "job", job.Name())
			s.lead(ctx, key, token, job)
		}

		if !sleepCtx(ctx, leaseRetryDelay) {
			return ctx.Err()
		}
	}
}

func (s *Scheduler) runLocal(ctx context.Context, job ScheduledJob) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			runJob(ctx, job, 0)
			timer.Reset(jobInterval(job))
		}
	}
}

func (s *Scheduler) acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil || !ok {
		return "", err
	}
	return token, nil
}

// lead runs job until ctx ends or the lease is lost. The lease is extended
// before every run and every third of its TTL, and a run is cut off at two
// thirds of the TTL so it never outlives the lease it started under.
func (s *Scheduler) lead(ctx context.Context, key, token string, job ScheduledJob) {
	defer s.release(key, token, job.Name())

	renew := time.NewTicker(s.ttl / 3)
	defer renew.Stop()
	next := time.NewTimer(0)
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-renew.C:
			if err := s.extend(ctx, key, token); err != nil {
				log.Warn("Lease lost", "job", job.Name(), "error", err)
				return
			}
		case <-next.C:
			if err := s.extend(ctx, key, token); err != nil {
				log.Warn("Lease lost", "job", job.Name(), "error", err)
				return
			}
			runJob(ctx, job, s.ttl*2/3)
			next.Reset(jobInterval(job))
		}
	}
}

func (s *Scheduler) extend(ctx context.Context, key, token string) error {
	opCtx, cancel := context.WithTimeout(ctx, leaseOpTimeout)
	defer cancel()

	held, err := leaseScript.Run(opCtx, s.client, []string{key}, token, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if held == 0 {
		return errLeaseLost
	}
	return nil
}

func (s *Scheduler) release(key, token, name string) {
	// ctx is usually already cancelled here
	opCtx, cancel := context.WithTimeout(context.Background(), leaseOpTimeout)
	defer cancel()

	if err := leaseScript.Run(opCtx, s.client, []string{key}, token, 0).Err(); err != nil {
		log.Warn("Failed to release lease", "job", name, "error", err)
	}
}

func runJob(ctx context.Context, job ScheduledJob, limit time.Duration) {
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Scheduled job failed", "job", job.Name(), "error", err)
	}
}

func jobInterval(job ScheduledJob) time.Duration {
	if d := job.Interval(); d > 0 {
		return d
	}
	return fallbackEvery
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
