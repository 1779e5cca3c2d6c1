package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const maintenanceKey = "sync:maintenance"

type maintenanceState struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

// RedisMaintenanceStore mirrors the advisory maintenance flag in Redis so
// every replica answers consistently.
type RedisMaintenanceStore struct {
	client *redis.Client
}

func NewRedisMaintenanceStore(client *redis.Client) *RedisMaintenanceStore {
	return &RedisMaintenanceStore{client: client}
}

func (s *RedisMaintenanceStore) SetMaintenance(ctx context.Context, enabled bool, message string) error {
	jsonData, err := json.Marshal(maintenanceState{Enabled: enabled, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal maintenance state: %w", err)
	}
	if err := s.client.Set(ctx, maintenanceKey, jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set maintenance state: %w", err)
	}
	return nil
}

func (s *RedisMaintenanceStore) GetMaintenance(ctx context.Context) (bool, string, error) {
	jsonData, err := s.client.Get(ctx, maintenanceKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to get maintenance state: %w", err)
	}

	var state maintenanceState
	if err := json.Unmarshal([]byte(jsonData), &state); err != nil {
		return false, "", fmt.Errorf("failed to unmarshal maintenance state: %w", err)
	}
	return state.Enabled, state.Message, nil
}
