package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const modelListKey = "woolychat:ollama:tags"

type Store struct {
	rdb *redis.Client
}

// New connects to redis and fails when the server does not answer a ping.
func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

// GetModelList returns the cached backend model listing. ok is false on a miss.
func (s *Store) GetModelList(ctx context.Context) (raw json.RawMessage, ok bool, err error) {
	b, err := s.rdb.Get(ctx, modelListKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !json.Valid(b) {
		_ = s.rdb.Del(ctx, modelListKey).Err()
		return nil, false, nil
	}
	return json.RawMessage(b), true, nil
}

func (s *Store) SetModelList(ctx context.Context, raw json.RawMessage, ttl time.Duration) error {
	return s.rdb.Set(ctx, modelListKey, []byte(raw), ttl).Err()
}

func (s *Store) InvalidateModelList(ctx context.Context) error {
	return s.rdb.Del(ctx, modelListKey).Err()
}
