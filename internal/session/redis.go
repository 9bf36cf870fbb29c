package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"doran/internal/domain"
)

// RedisConfig holds connection settings for the redis history store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore keeps each session as a capped redis list of JSON exchanges.
type RedisStore struct {
	client *redis.Client
	opts   Options
	prefix string
}

var _ domain.HistoryStore = (*RedisStore)(nil)

// NewRedisStore connects to redis and verifies the connection.
// Addr may also be a redis:// or rediss:// URL.
func NewRedisStore(ctx context.Context, cfg RedisConfig, opts Options) (*RedisStore, error) {
	ropts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		ropts = parsed
	}
	client := redis.NewClient(ropts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", ropts.Addr, err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix, opts), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = "doran:session:"
	}
	return &RedisStore{client: client, opts: opts.withDefaults(), prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// Append pushes the exchange, trims the list to the limit and refreshes the TTL in one round trip.
func (s *RedisStore) Append(ctx context.Context, sessionID string, ex domain.Exchange) error {
	if sessionID == "" {
		return nil
	}
	raw, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("encode exchange: %w", err)
	}
	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.LTrim(ctx, key, int64(-s.opts.Limit), -1)
		if s.opts.TTL > 0 {
			p.Expire(ctx, key, s.opts.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history for %s: %w", sessionID, err)
	}
	return nil
}

// Recent returns up to n of the latest exchanges, oldest first. n <= 0 returns all.
func (s *RedisStore) Recent(ctx context.Context, sessionID string, n int) ([]domain.Exchange, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	vals, err := s.client.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read history for %s: %w", sessionID, err)
	}
	out := make([]domain.Exchange, 0, len(vals))
	for _, v := range vals {
		var ex domain.Exchange
		if err := json.Unmarshal([]byte(v), &ex); err != nil {
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

// Clear forgets a session.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error { return s.client.Close() }
