package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"moltguard/internal/database"

	"gorm.io/driver/sqlite"
)

func TestLimiterWithSQLStoreUnderConcurrency(t *testing.T) {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.SetupDB(
		database.WithDialector(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", name))),
		database.WithMigrations(database.DefaultMigrations()...),
	)
	if err != nil {
		t.Fatalf("setup sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)}
	limiter := newTestLimiter(database.NewRateWindowStore(db), clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Record(ctx, "bot-1", "post"); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	decision, err := limiter.Check(ctx, "bot-1", "post")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed || decision.Remaining != 0 {
		t.Fatalf("after 10 concurrent records got %+v, want denied", decision)
	}
}
