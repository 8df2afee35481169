package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

var _ domain.ValidationCache = (*Redis)(nil)

// Redis is the shared validation cache backend for multi-node
// deployments. Entries expire via native TTLs; a hit is consumed
// only after the caller's key matches the stored one.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client. A non-positive ttl falls back to
// DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

type redisEntry struct {
	TenantID string                  `json:"tenant_id"`
	EventID  string                  `json:"event_id"`
	Result   domain.ValidationResult `json:"result"`
}

func entryKey(validationID string) string {
	return "rosterbatch:validation:" + validationID
}

func indexKey(key domain.CacheKey) string {
	return "rosterbatch:validation-index:" + key.TenantID + ":" + key.EventID
}

func (r *Redis) Put(ctx context.Context, key domain.CacheKey, result domain.ValidationResult) (string, error) {
	payload, err := json.Marshal(redisEntry{
		TenantID: key.TenantID,
		EventID:  key.EventID,
		Result:   result,
	})
	if err != nil {
		return "", fmt.Errorf("encoding validation result: %w", err)
	}

	// Supersede any prior upload for the same tenant and event.
	if prev, err := r.client.GetDel(ctx, indexKey(key)).Result(); err == nil && prev != "" {
		r.client.Del(ctx, entryKey(prev))
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("clearing prior validation: %w", err)
	}

	id := uuid.NewString()
	if err := r.client.Set(ctx, entryKey(id), payload, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing validation result: %w", err)
	}
	if err := r.client.Set(ctx, indexKey(key), id, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("indexing validation result: %w", err)
	}

	return id, nil
}

func (r *Redis) Get(ctx context.Context, validationID string, key domain.CacheKey) (domain.ValidationResult, bool, error) {
	payload, err := r.client.Get(ctx, entryKey(validationID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ValidationResult{}, false, nil
	}
	if err != nil {
		return domain.ValidationResult{}, false, fmt.Errorf("reading validation result: %w", err)
	}

	var entry redisEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return domain.ValidationResult{}, false, fmt.Errorf("decoding validation result: %w", err)
	}
	// A mismatched tenant or event is a miss and must leave the entry
	// for its rightful owner.
	if entry.TenantID != key.TenantID || entry.EventID != key.EventID {
		return domain.ValidationResult{}, false, nil
	}

	// Delete only after the key check so a hit stays single-use.
	if err := r.client.Del(ctx, entryKey(validationID)).Err(); err != nil {
		return domain.ValidationResult{}, false, fmt.Errorf("consuming validation result: %w", err)
	}

	return entry.Result, true, nil
}

func (r *Redis) Delete(ctx context.Context, validationID string) error {
	if err := r.client.Del(ctx, entryKey(validationID)).Err(); err != nil {
		return fmt.Errorf("deleting validation result: %w", err)
	}
	return nil
}
