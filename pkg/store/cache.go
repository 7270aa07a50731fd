package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"doctrack/pkg/domain"
)

const defaultCacheTTL = 7 * 24 * time.Hour

// Cache persists job records in redis as a simple key-value cache so a
// restarted client can pick tracking back up. It is best-effort: the in-memory
// Store stays authoritative.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// CacheConfig configures the redis job cache.
type CacheConfig struct {
	Addr     string
	Password string
	Prefix   string
	TTL      time.Duration
}

// NewCache connects a job cache to redis.
func NewCache(cfg CacheConfig) (*Cache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "doctrack:job:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Save stores or refreshes one job record.
func (c *Cache) Save(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+job.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes one job record. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.prefix+id).Err(); err != nil {
		return fmt.Errorf("evict job %s: %w", id, err)
	}
	return nil
}

// List returns every cached job record. Entries that no longer parse are
// skipped rather than failing the whole scan.
func (c *Cache) List(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", iter.Val(), err)
		}
		var job domain.Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan job cache: %w", err)
	}
	return jobs, nil
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
