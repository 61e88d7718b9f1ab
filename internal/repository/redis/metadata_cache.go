package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mzielin/agent-bridge/internal/domain"
)

const (
	metadataCachePrefix = "conversation:"
	verifyCachePrefix   = "thread-verify:"

	// Cached metadata is trusted for display/search within this window;
	// past it the remote API must be consulted again.
	metadataCacheTTL = 5 * time.Minute
	verifyCacheTTL   = 10 * time.Minute
)

// ConversationCache caches derived conversation metadata and thread
// existence checks in Redis. The remote API stays authoritative.
type ConversationCache struct {
	client *Client
}

// NewConversationCache creates a new conversation cache
func NewConversationCache(client *Client) *ConversationCache {
	return &ConversationCache{client: client}
}

// GetMetadata retrieves cached metadata for a thread. A miss or expired
// entry returns (nil, nil).
func (c *ConversationCache) GetMetadata(ctx context.Context, threadID string) (*domain.ConversationMetadata, error) {
	key := metadataCachePrefix + threadID

	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, nil // Cache miss
	}

	var meta domain.ConversationMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation metadata: %w", err)
	}
	return &meta, nil
}

// SetMetadata caches metadata for a thread with the freshness TTL
func (c *ConversationCache) SetMetadata(ctx context.Context, threadID string, meta *domain.ConversationMetadata) error {
	key := metadataCachePrefix + threadID

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation metadata: %w", err)
	}
	return c.client.rdb.Set(ctx, key, data, metadataCacheTTL).Err()
}

// InvalidateMetadata removes cached metadata for a thread
func (c *ConversationCache) InvalidateMetadata(ctx context.Context, threadID string) error {
	return c.client.rdb.Del(ctx, metadataCachePrefix+threadID).Err()
}

// GetVerified returns the cached existence check for a thread
func (c *ConversationCache) GetVerified(ctx context.Context, threadID string) (bool, bool, error) {
	val, err := c.client.rdb.Get(ctx, verifyCachePrefix+threadID).Result()
	if err != nil {
		return false, false, nil // Cache miss
	}
	exists, err := strconv.ParseBool(val)
	if err != nil {
		return false, false, nil
	}
	return exists, true, nil
}

// SetVerified caches the existence check for a thread
func (c *ConversationCache) SetVerified(ctx context.Context, threadID string, exists bool) error {
	return c.client.rdb.Set(ctx, verifyCachePrefix+threadID, strconv.FormatBool(exists), verifyCacheTTL).Err()
}

// FlushAll removes all cached conversation entries
func (c *ConversationCache) FlushAll(ctx context.Context) (int64, error) {
	var deleted int64
	for _, pattern := range []string{metadataCachePrefix + "*", verifyCachePrefix + "*"} {
		var cursor uint64
		for {
			keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to scan keys: %w", err)
			}
			if len(keys) > 0 {
				count, err := c.client.rdb.Del(ctx, keys...).Result()
				if err != nil {
					return deleted, fmt.Errorf("failed to delete keys: %w", err)
				}
				deleted += count
			}
			cursor = nextCursor
			if cursor == 0 {
				break
			}
		}
	}
	return deleted, nil
}
