package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/greenshelf/strainscan/internal/models"
)

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Blue Dream", "strain:blue-dream"},
		{"  blue   DREAM ", "strain:blue-dream"},
		{"Girl Scout Cookies #4", "strain:girl-scout-cookies-4"},
		{"O.G. Kush", "strain:o-g-kush"},
		{"", "strain:unknown"},
		{"!!!", "strain:unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheKey(tt.name); got != tt.want {
				t.Errorf("CacheKey(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func testRecord(name string) *models.ProductRecord {
	return &models.ProductRecord{
		ID:       "rec-1",
		Name:     name,
		Type:     models.StrainHybrid,
		THC:      23.4,
		Terpenes: []models.SecondaryAttribute{{Name: "Myrcene", Intensity: 4}},
	}
}

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "strain:missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}

	key := CacheKey("Blue Dream")
	if err := c.Upsert(ctx, key, testRecord("Blue Dream")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	updated := testRecord("Blue Dream")
	updated.THC = 22.1
	if err := c.Upsert(ctx, key, updated); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if got.THC != 22.1 {
		t.Errorf("THC = %v, want last written 22.1", got.THC)
	}
	if len(got.Terpenes) != 1 || got.Terpenes[0].Name != "Myrcene" {
		t.Errorf("terpenes not round-tripped: %+v", got.Terpenes)
	}
}

func TestMemory(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := testRecord("Sour Diesel")
	_ = m.Upsert(ctx, "k", rec)
	rec.Name = "mutated"

	got, _, _ := m.Get(ctx, "k")
	if got.Name != "Sour Diesel" {
		t.Fatalf("cached record aliased caller's value: %q", got.Name)
	}
}

func TestMemoryConcurrentUpserts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Upsert(ctx, CacheKey("Blue Dream"), testRecord("Blue Dream"))
		}()
	}
	wg.Wait()
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
}

func TestRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), srv.Addr(), "", 0, time.Hour)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer c.Close()

	exerciseCache(t, c)

	ttl := srv.TTL(CacheKey("Blue Dream"))
	if ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	srv.FastForward(2 * time.Hour)
	if _, ok, _ := c.Get(context.Background(), CacheKey("Blue Dream")); ok {
		t.Error("record should have expired")
	}
}

func TestRedisCorruptValue(t *testing.T) {
	srv := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), srv.Addr(), "", 0, 0)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer c.Close()

	_ = srv.Set("strain:bad", "not json")
	if _, _, err := c.Get(context.Background(), "strain:bad"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	if _, err := NewRedis(context.Background(), addr, "", 0, 0); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
