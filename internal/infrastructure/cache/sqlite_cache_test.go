package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"ticketpilot/internal/infrastructure/persistence/sqlite/model"
)

func setupCache(t *testing.T) *SQLiteCache {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "cache.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.PilotKV{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewSQLiteCache(db)
}

func TestSetGetRoundTrip(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "metrics.tickets", `{"completed":3}`, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, found, err := c.Get(ctx, "metrics.tickets")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v", found, err)
	}
	if value != `{"completed":3}` {
		t.Fatalf("Get() value = %q", value)
	}
}

func TestSetOverwritesExistingKey(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "health.providers", "stale", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Set(ctx, "health.providers", "fresh", 0); err != nil {
		t.Fatalf("Set(overwrite) error = %v", err)
	}

	value, found, err := c.Get(ctx, "health.providers")
	if err != nil || !found || value != "fresh" {
		t.Fatalf("Get() = %q, %v, %v, want fresh", value, found, err)
	}
}

func TestGetMissingKey(t *testing.T) {
	c := setupCache(t)

	_, found, err := c.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatal("Get() reported a missing key as found")
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Fatal("key still present after delete")
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "  ", "v", 0); err == nil {
		t.Fatal("Set with blank key accepted")
	}
	if _, _, err := c.Get(ctx, ""); err == nil {
		t.Fatal("Get with blank key accepted")
	}
}
