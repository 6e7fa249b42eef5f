// Package kvparam implements the optional cross-process strategy-parameter
// key-value store backed by Redis: param(name, value) / param(name) ->
// value, namespaced <strategy_id>:<user_id>:<name>.
package kvparam

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store reads and writes strategy parameters under a fixed namespace.
type Store struct {
	client     *redis.Client
	strategyID string
	userID     string
}

// New builds a Store against a Redis client, namespaced to one
// strategy/user pair.
func New(client *redis.Client, strategyID, userID string) *Store {
	return &Store{client: client, strategyID: strategyID, userID: userID}
}

func (s *Store) key(name string) string {
	return fmt.Sprintf("%s:%s:%s", s.strategyID, s.userID, name)
}

// SetParam writes value under name.
func (s *Store) SetParam(ctx context.Context, name, value string) error {
	return s.client.Set(ctx, s.key(name), value, 0).Err()
}

// GetParam reads the value stored under name; ok is false if unset.
func (s *Store) GetParam(ctx context.Context, name string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// DeleteParam removes name, if present.
func (s *Store) DeleteParam(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.key(name)).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
