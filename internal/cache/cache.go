package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the shared TTL-capable key-value layer used for job-status
// documents and ephemeral state. Single shared instance, last-write-wins per
// key.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// GetJSON reads and decodes a JSON document. The second return is false when
// the key is absent.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode cached doc %s: %w", key, err)
	}
	return true, nil
}

// SetJSON writes a JSON document with a TTL. A zero TTL means no expiry.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode doc %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key; deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// PushRecent prepends a value to a bounded recency list.
func (c *Cache) PushRecent(ctx context.Context, key, value string, keep int) error {
	if keep <= 0 {
		keep = 20
	}
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, int64(keep-1))
	_, err := pipe.Exec(ctx)
	return err
}

// Recent reads up to count entries from a recency list, newest first.
func (c *Cache) Recent(ctx context.Context, key string, count int) ([]string, error) {
	return c.client.LRange(ctx, key, 0, int64(count-1)).Result()
}

// SetStateToken stores a one-shot OAuth state nonce.
func (c *Cache) SetStateToken(ctx context.Context, token, value string, ttl time.Duration) error {
	return c.client.Set(ctx, "oauth:state:"+token, value, ttl).Err()
}

// ConsumeStateToken reads and deletes a state nonce in one step. The second
// return is false when the token is unknown or already consumed.
func (c *Cache) ConsumeStateToken(ctx context.Context, token string) (string, bool, error) {
	val, err := c.client.GetDel(ctx, "oauth:state:"+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
