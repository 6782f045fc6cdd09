package webhooks

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"moltguard/internal/database"
	"moltguard/internal/security"

	"gorm.io/driver/sqlite"
)

type fakeResolver map[string][]string

func (r fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	addrs := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return addrs, nil
}

var testResolver = fakeResolver{
	"hooks.example.com":    {"93.184.216.34"},
	"dual.example.com":     {"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"},
	"rebind.example.com":   {"93.184.216.34", "127.0.0.1"},
	"internal.example.com": {"10.1.2.3"},
}

func setupTestStore(t *testing.T) *database.SubscriptionStore {
	t.Helper()

	t.Setenv("WEBHOOK_SECRET_KEY", "webhooks-test-key")
	security.ResetSecretBoxForTests()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.SetupDB(
		database.WithDialector(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", name))),
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

	return database.NewSubscriptionStore(db)
}
