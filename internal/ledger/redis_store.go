package ledger

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash that holds the ledger.
const DefaultRedisKey = "apply-agent:ledger"

// RedisStore keeps the ledger in a Redis hash of URL to JSON-encoded Entry.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, &StoreError{Backend: "redis", Op: "parse url", Cause: err}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &StoreError{Backend: "redis", Op: "ping", Cause: err}
	}
	return NewRedisStoreFromClient(client, key), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load reads the whole hash.
func (s *RedisStore) Load(ctx context.Context) (map[string]Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, &StoreError{Backend: "redis", Op: "hgetall", Cause: err}
	}
	entries := make(map[string]Entry, len(raw))
	for url, value := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			return nil, &StoreError{Backend: "redis", Op: "decode " + url, Cause: err}
		}
		entries[url] = e
	}
	return entries, nil
}

// Put sets one field.
func (s *RedisStore) Put(ctx context.Context, url string, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return &StoreError{Backend: "redis", Op: "encode", Cause: err}
	}
	if err := s.client.HSet(ctx, s.key, url, value).Err(); err != nil {
		return &StoreError{Backend: "redis", Op: "hset", Cause: err}
	}
	return nil
}

// ReplaceAll swaps the hash contents in a MULTI/EXEC block.
func (s *RedisStore) ReplaceAll(ctx context.Context, entries map[string]Entry) error {
	values := make(map[string]any, len(entries))
	for url, e := range entries {
		encoded, err := json.Marshal(e)
		if err != nil {
			return &StoreError{Backend: "redis", Op: "encode", Cause: err}
		}
		values[url] = encoded
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return &StoreError{Backend: "redis", Op: "replace", Cause: err}
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
