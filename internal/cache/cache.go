package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Export Job Cache Operations

// SetExportJob caches an export job snapshot
func (c *Cache) SetExportJob(ctx context.Context, job *models.ExportJob, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal export job: %w", err)
	}

	key := fmt.Sprintf("export:%s", job.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetExportJob retrieves an export job snapshot from cache
func (c *Cache) GetExportJob(ctx context.Context, jobID string) (*models.ExportJob, error) {
	key := fmt.Sprintf("export:%s", jobID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get export job from cache: %w", err)
	}

	var job models.ExportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal export job: %w", err)
	}

	return &job, nil
}

// setIfGreater only ever raises the stored value
var setIfGreater = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '-1')
local v = tonumber(ARGV[1])
if v > cur then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0
`)

// SetExportProgress stores live progress. Values lower than the stored one are
// dropped, so readers never see progress go backwards.
func (c *Cache) SetExportProgress(ctx context.Context, jobID string, progress float64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("export:progress:%s", jobID)
	value := strconv.FormatFloat(progress, 'f', 2, 64)

	stored, err := setIfGreater.Run(ctx, c.client, []string{key}, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set export progress: %w", err)
	}
	return stored == 1, nil
}

// GetExportProgress retrieves live progress. ok is false on a cache miss.
func (c *Cache) GetExportProgress(ctx context.Context, jobID string) (progress float64, ok bool, err error) {
	key := fmt.Sprintf("export:progress:%s", jobID)
	progress, err = c.client.Get(ctx, key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get export progress: %w", err)
	}
	return progress, true, nil
}

// Stats Cache Operations

// IncrementStat increments a statistic counter
func (c *Cache) IncrementStat(ctx context.Context, stat string) error {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Incr(ctx, key).Err()
}

// GetStat retrieves a statistic value
func (c *Cache) GetStat(ctx context.Context, stat string) (int64, error) {
	key := fmt.Sprintf("stats:%s", stat)
	v, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Locking Operations

// AcquireLock attempts to acquire a lock held by owner
func (c *Cache) AcquireLock(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, owner, ttl).Result()
}

var releaseIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// ReleaseLock releases a lock if owner still holds it
func (c *Cache) ReleaseLock(ctx context.Context, resource, owner string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return releaseIfOwner.Run(ctx, c.client, []string{key}, owner).Err()
}

// LockHolder returns the current owner of a lock, or "" when it is free
func (c *Cache) LockHolder(ctx context.Context, resource string) (string, error) {
	key := fmt.Sprintf("lock:%s", resource)
	owner, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
