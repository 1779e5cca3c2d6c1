package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
)

const (
	retryPendingKeyPattern  = "sync:pending:%s"
	retryScheduleKeyPattern = "sync:retry:%s"
	retryRecordKeyPattern   = "sync:retrydata:%s"
	// Not "sync:retry:tenants": a tenant named "tenants" would collide with
	// the schedule key pattern.
	retryTenantsKey = "sync:retrytenants"
)

// RedisRetryStore is the durable retry queue: a list per tenant for pending
// entries, plus a sorted set scored by next-retry time over a hash of
// failed-entry records. State survives process restarts.
type RedisRetryStore struct {
	client *redis.Client
}

func NewRedisRetryStore(client *redis.Client) *RedisRetryStore {
	return &RedisRetryStore{client: client}
}

func (s *RedisRetryStore) Enqueue(ctx context.Context, tenantID string, entry models.SyncChangeEntry) error {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	key := fmt.Sprintf(retryPendingKeyPattern, tenantID)
	if err := s.client.RPush(ctx, key, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to enqueue entry: %w", err)
	}
	if err := s.client.SAdd(ctx, retryTenantsKey, tenantID).Err(); err != nil {
		return fmt.Errorf("failed to track tenant: %w", err)
	}
	return nil
}

func (s *RedisRetryStore) DrainPending(ctx context.Context, tenantID string, max int) ([]models.SyncChangeEntry, error) {
	if max <= 0 {
		max = 100
	}
	key := fmt.Sprintf(retryPendingKeyPattern, tenantID)

	values, err := s.client.LPopCount(ctx, key, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to drain pending queue: %w", err)
	}

	entries := make([]models.SyncChangeEntry, 0, len(values))
	for _, v := range values {
		var entry models.SyncChangeEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisRetryStore) MarkFailed(ctx context.Context, tenantID string, rec models.RetryRecord) error {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal retry record: %w", err)
	}

	recordKey := fmt.Sprintf(retryRecordKeyPattern, tenantID)
	if err := s.client.HSet(ctx, recordKey, rec.Entry.ID, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to store retry record: %w", err)
	}

	scheduleKey := fmt.Sprintf(retryScheduleKeyPattern, tenantID)
	member := redis.Z{Score: float64(rec.NextRetry.Unix()), Member: rec.Entry.ID}
	if err := s.client.ZAdd(ctx, scheduleKey, member).Err(); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if err := s.client.SAdd(ctx, retryTenantsKey, tenantID).Err(); err != nil {
		return fmt.Errorf("failed to track tenant: %w", err)
	}
	return nil
}

func (s *RedisRetryStore) Due(ctx context.Context, tenantID string, now time.Time) ([]models.RetryRecord, error) {
	scheduleKey := fmt.Sprintf(retryScheduleKeyPattern, tenantID)

	ids, err := s.client.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due entries: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	recordKey := fmt.Sprintf(retryRecordKeyPattern, tenantID)
	values, err := s.client.HMGet(ctx, recordKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load retry records: %w", err)
	}

	records := make([]models.RetryRecord, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// Schedule entry without a record; drop it on the next Remove.
			continue
		}
		var rec models.RetryRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisRetryStore) Remove(ctx context.Context, tenantID string, entryID string) error {
	scheduleKey := fmt.Sprintf(retryScheduleKeyPattern, tenantID)
	recordKey := fmt.Sprintf(retryRecordKeyPattern, tenantID)

	if err := s.client.ZRem(ctx, scheduleKey, entryID).Err(); err != nil {
		return fmt.Errorf("failed to unschedule entry: %w", err)
	}
	if err := s.client.HDel(ctx, recordKey, entryID).Err(); err != nil {
		return fmt.Errorf("failed to delete retry record: %w", err)
	}

	// Untrack the tenant once both queues are empty.
	pending, failed, err := s.Depth(ctx, tenantID)
	if err == nil && pending == 0 && failed == 0 {
		s.client.SRem(ctx, retryTenantsKey, tenantID)
	}
	return nil
}

func (s *RedisRetryStore) Tenants(ctx context.Context) ([]string, error) {
	tenants, err := s.client.SMembers(ctx, retryTenantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list retry tenants: %w", err)
	}
	return tenants, nil
}

func (s *RedisRetryStore) Depth(ctx context.Context, tenantID string) (int, int, error) {
	pending, err := s.client.LLen(ctx, fmt.Sprintf(retryPendingKeyPattern, tenantID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read pending depth: %w", err)
	}
	failed, err := s.client.ZCard(ctx, fmt.Sprintf(retryScheduleKeyPattern, tenantID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read failed depth: %w", err)
	}
	return int(pending), int(failed), nil
}
