package support

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type countingJob struct {
	name  string
	every time.Duration
	runs  atomic.Int32
	ran   chan struct{}
}

func newCountingJob(name string, every time.Duration) *countingJob {
	return &countingJob{name: name, every: every, ran: make(chan struct{}, 16)}
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.every }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	select {
	case j.ran <- struct{}{}:
	default:
	}
	return nil
}

func waitForRuns(t *testing.T, job *countingJob, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-job.ran:
		case <-deadline:
			t.Fatalf("job ran %d times, want at least %d", job.runs.Load(), n)
		}
	}
}

func TestSchedulerRunsJobLocallyWithoutRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := newCountingJob("local", 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- NewScheduler(nil, 0).Run(ctx, job) }()

	waitForRuns(t, job, 3)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSchedulerRejectsNilJob(t *testing.T) {
	if err := NewScheduler(nil, 0).Run(context.Background(), nil); err == nil {
		t.Fatal("expected an error for a nil job")
	}
}

func TestJobIntervalFallsBackWhenUnset(t *testing.T) {
	if got := jobInterval(newCountingJob("zero", 0)); got != fallbackEvery {
		t.Fatalf("jobInterval = %s, want %s", got, fallbackEvery)
	}
	if got := jobInterval(newCountingJob("set", 3*time.Second)); got != 3*time.Second {
		t.Fatalf("jobInterval = %s, want 3s", got)
	}
}

func TestSchedulerLeaseLive(t *testing.T) {
	url := os.Getenv("MOLTGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("live test, set MOLTGUARD_TEST_REDIS_URL to run against redis")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	job := newCountingJob("lease-live-"+t.Name(), 10*time.Millisecond)
	key := leaseKeyPrefix + job.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := NewScheduler(client, 3*time.Second)
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx, job) }()

	waitForRuns(t, job, 2)

	rival := NewScheduler(client, 3*time.Second)
	token, err := rival.acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token != "" {
		t.Fatal("second scheduler acquired a lease that is already held")
	}
	if err := rival.extend(context.Background(), key, "not-the-holder"); !errors.Is(err, errLeaseLost) {
		t.Fatalf("extend with foreign token returned %v, want errLeaseLost", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	exists, err := client.Exists(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 0 {
		t.Fatal("lease was not released on shutdown")
	}
}
