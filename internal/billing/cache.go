package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const summaryCachePrefix = "billing:summary"

// SummaryCache caches customer ledger summaries in Redis with a per-customer
// version counter. Mutations bump the version instead of deleting keys, so
// stale entries simply age out.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache instantiates the cache helper.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

func (c *SummaryCache) versionKey(customerID int64) string {
	return fmt.Sprintf("%s:ver:%d", summaryCachePrefix, customerID)
}

func (c *SummaryCache) key(customerID, version int64) string {
	return fmt.Sprintf("%s:%d:%d", summaryCachePrefix, customerID, version)
}

// Version returns the customer's current cache version, initialising it when
// missing.
func (c *SummaryCache) Version(ctx context.Context, customerID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, c.versionKey(customerID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, c.versionKey(customerID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates the customer's cached summary by advancing the version.
func (c *SummaryCache) Bump(ctx context.Context, customerID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, c.versionKey(customerID)).Err()
}

// Fetch loads the cached summary or populates it using the loader.
func (c *SummaryCache) Fetch(ctx context.Context, customerID int64, dest *CustomerSummary, loader func(context.Context) (*CustomerSummary, error)) error {
	if loader == nil {
		return errors.New("billing: cache loader required")
	}
	if c == nil || c.client == nil {
		loaded, err := loader(ctx)
		if err != nil {
			return err
		}
		*dest = *loaded
		return nil
	}

	ver, err := c.Version(ctx, customerID)
	if err != nil {
		return err
	}
	key := c.key(customerID, ver)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(raw, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}

	loaded, err := loader(ctx)
	if err != nil {
		return err
	}
	*dest = *loaded

	encoded, err := json.Marshal(loaded)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, encoded, c.ttl).Err()
}
