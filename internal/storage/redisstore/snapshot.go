// Package redisstore keeps the latest opportunity batch in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey holds the serialized batch
const DefaultKey = "arbitrage-opportunities"

// SnapshotStore reads and replaces the batch under a single key
type SnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewSnapshotStore creates a store; ttl 0 keeps the key forever
func NewSnapshotStore(client *redis.Client, key string, ttl time.Duration, logger *zap.SugaredLogger) *SnapshotStore {
	if key == "" {
		key = DefaultKey
	}
	return &SnapshotStore{client: client, key: key, ttl: ttl, logger: logger}
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Load returns the stored batch; a missing key is an empty batch
func (s *SnapshotStore) Load(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}

	var ops []domain.ArbitrageOpportunity
	if err := json.Unmarshal(data, &ops); err != nil {
		// a corrupt value is treated as no prior state
		s.logger.Warnf("Discarding unreadable snapshot %s: %v", s.key, err)
		return nil, nil
	}
	return ops, nil
}

// Save replaces the stored batch
func (s *SnapshotStore) Save(ctx context.Context, ops []domain.ArbitrageOpportunity) error {
	if ops == nil {
		ops = []domain.ArbitrageOpportunity{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// Ping reports whether the server is reachable
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
