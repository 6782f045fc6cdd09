package database

import (
	"fmt"
	"strings"
	"testing"

	"moltguard/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	t.Setenv("WEBHOOK_SECRET_KEY", "database-test-key")
	security.ResetSecretBoxForTests()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", name)
	db, err := SetupDB(
		WithDialector(sqlite.Open(dsn)),
		WithLogger(silentLogger()),
	)
	if err != nil {
		t.Fatalf("setup sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
