package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/models"
)

func sampleStandings() models.SeasonStandings {
	return models.SeasonStandings{"pro": {{EntrantID: 1, Points: 40, Rank: 1, FinishCounts: []models.FinishCount{{Position: 1, Count: 1}, {Position: 3, Count: 1}}}}}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryStandingsCache(time.Minute)

	got, gen, err := c.Lookup(ctx, 1)
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %v %v", got, err)
	}
	if err := c.Store(ctx, 1, gen, sampleStandings()); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, _, err = c.Lookup(ctx, 1)
	if err != nil || got == nil || got["pro"][0].Points != 40 {
		t.Fatalf("expected hit with 40 points, got %v %v", got, err)
	}
}

func TestMemoryCacheDropsValueComputedBeforeInvalidation(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryStandingsCache(time.Minute)

	_, staleGen, _ := c.Lookup(ctx, 1)
	if err := c.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Store(ctx, 1, staleGen, sampleStandings()); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got, _, _ := c.Lookup(ctx, 1); got != nil {
		t.Fatal("value computed under an old generation must not be served")
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryStandingsCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, gen, _ := c.Lookup(ctx, 3)
	_ = c.Store(ctx, 3, gen, sampleStandings())
	now = now.Add(2 * time.Minute)
	if got, _, _ := c.Lookup(ctx, 3); got != nil {
		t.Fatal("expected expired entry to miss")
	}
}

// Интеграционный тест; запускается только при заданном REDIS_TEST_URL.
func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rdb.Close()

	seasonID := int(time.Now().UnixNano() % 1_000_000)
	c := NewRedisStandingsCache(rdb, time.Minute)
	defer rdb.Del(ctx, generationKey(seasonID))

	_, gen, err := c.Lookup(ctx, seasonID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := c.Store(ctx, seasonID, gen, sampleStandings()); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, _, err := c.Lookup(ctx, seasonID)
	if err != nil || got == nil {
		t.Fatalf("expected hit, got %v %v", got, err)
	}
	if err := c.Invalidate(ctx, seasonID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if got, _, _ := c.Lookup(ctx, seasonID); got != nil {
		t.Fatal("expected miss after invalidation")
	}
}
