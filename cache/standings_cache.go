// Package cache keeps computed season standings. Invalidation bumps a per-season
// generation; a value computed under an older generation is never served.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dosada05/club-engine/models"
	"github.com/redis/go-redis/v9"
)

// Generation identifies the cache epoch a lookup observed.
type Generation int64

type RedisStandingsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient разбирает REDIS_URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func NewRedisStandingsCache(rdb *redis.Client, ttl time.Duration) *RedisStandingsCache {
	return &RedisStandingsCache{rdb: rdb, ttl: ttl}
}

func generationKey(seasonID int) string {
	return fmt.Sprintf("standings:season:%d:gen", seasonID)
}

func dataKey(seasonID int, gen Generation) string {
	return fmt.Sprintf("standings:season:%d:v%d", seasonID, gen)
}

// Lookup returns the cached standings or nil on a miss, together with the
// generation the caller must pass to Store.
func (c *RedisStandingsCache) Lookup(ctx context.Context, seasonID int) (models.SeasonStandings, Generation, error) {
	genVal, err := c.rdb.Get(ctx, generationKey(seasonID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("read standings generation: %w", err)
	}
	gen := Generation(genVal)

	raw, err := c.rdb.Get(ctx, dataKey(seasonID, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, nil
	}
	if err != nil {
		return nil, gen, fmt.Errorf("read cached standings: %w", err)
	}
	var out models.SeasonStandings
	if err := json.Unmarshal(raw, &out); err != nil {
		// битая запись считается промахом
		return nil, gen, nil
	}
	return out, gen, nil
}

func (c *RedisStandingsCache) Store(ctx context.Context, seasonID int, gen Generation, standings models.SeasonStandings) error {
	raw, err := json.Marshal(standings)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}
	if err := c.rdb.Set(ctx, dataKey(seasonID, gen), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cached standings: %w", err)
	}
	return nil
}

func (c *RedisStandingsCache) Invalidate(ctx context.Context, seasonIDs ...int) error {
	if len(seasonIDs) == 0 {
		return nil
	}
	pipe := c.rdb.TxPipeline()
	for _, id := range seasonIDs {
		pipe.Incr(ctx, generationKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate standings cache: %w", err)
	}
	return nil
}

// MemoryStandingsCache - реализация в памяти процесса для запуска без Redis.
type MemoryStandingsCache struct {
	mu          sync.Mutex
	ttl         time.Duration
	now         func() time.Time
	generations map[int]Generation
	entries     map[int]memoryEntry
}

type memoryEntry struct {
	gen       Generation
	raw       []byte
	expiresAt time.Time
}

func NewMemoryStandingsCache(ttl time.Duration) *MemoryStandingsCache {
	return &MemoryStandingsCache{
		ttl:         ttl,
		now:         time.Now,
		generations: map[int]Generation{},
		entries:     map[int]memoryEntry{},
	}
}

func (c *MemoryStandingsCache) Lookup(_ context.Context, seasonID int) (models.SeasonStandings, Generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.generations[seasonID]
	e, ok := c.entries[seasonID]
	if !ok || e.gen != gen || !c.now().Before(e.expiresAt) {
		return nil, gen, nil
	}
	var out models.SeasonStandings
	if err := json.Unmarshal(e.raw, &out); err != nil {
		return nil, gen, nil
	}
	return out, gen, nil
}

func (c *MemoryStandingsCache) Store(_ context.Context, seasonID int, gen Generation, standings models.SeasonStandings) error {
	raw, err := json.Marshal(standings)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generations[seasonID] {
		return nil
	}
	c.entries[seasonID] = memoryEntry{gen: gen, raw: raw, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryStandingsCache) Invalidate(_ context.Context, seasonIDs ...int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range seasonIDs {
		c.generations[id]++
		delete(c.entries, id)
	}
	return nil
}
