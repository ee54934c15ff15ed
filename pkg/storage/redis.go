// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connection timeouts applied on top of the parsed Redis URL.
const (
	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

// RedisStorage keeps records in Redis so multiple replicas can share one
// pool of transactions, codes, and refresh-token marks. Take-once reads use
// GETDEL and replay marks use SETNX, so single-use stays atomic without
// scripting.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	cfg       *Config
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage connects to the Redis instance named by redisURL and
// verifies the connection with a ping. Keys are namespaced under keyPrefix
// so Takagi and Snowflake can share an instance.
func NewRedisStorage(ctx context.Context, redisURL, keyPrefix string, cfg *Config) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = redisReadTimeout
	opts.WriteTimeout = redisWriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStorageWithClient(client, keyPrefix, cfg), nil
}

// NewRedisStorageWithClient wraps an existing client. Used by tests.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string, cfg *Config) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		cfg:       cfg.withDefaults(),
	}
}

func (s *RedisStorage) transactionKey(ref string) string {
	return fmt.Sprintf("%s:txn:%s", s.keyPrefix, ref)
}

func (s *RedisStorage) codeKey(code string) string {
	return fmt.Sprintf("%s:code:%s", s.keyPrefix, code)
}

func (s *RedisStorage) consumedKey(code string) string {
	return fmt.Sprintf("%s:consumed:%s", s.keyPrefix, code)
}

func (s *RedisStorage) refreshKey(jti string) string {
	return fmt.Sprintf("%s:refresh:%s", s.keyPrefix, jti)
}

// StoreTransaction records a pending authorization under its state reference.
func (s *RedisStorage) StoreTransaction(ctx context.Context, ref string, txn *Transaction) error {
	payload, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	if err := s.client.Set(ctx, s.transactionKey(ref), payload, s.cfg.TransactionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store transaction: %w", err)
	}
	return nil
}

// ConsumeTransaction removes and returns the transaction stored under ref.
func (s *RedisStorage) ConsumeTransaction(ctx context.Context, ref string) (*Transaction, error) {
	payload, err := s.client.GetDel(ctx, s.transactionKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume transaction: %w", err)
	}
	var txn Transaction
	if err := json.Unmarshal(payload, &txn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &txn, nil
}

// StoreAuthorizationCode records a redeemable code.
func (s *RedisStorage) StoreAuthorizationCode(ctx context.Context, code string, record *AuthorizationCode) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	if err := s.client.Set(ctx, s.codeKey(code), payload, s.cfg.AuthCodeTTL).Err(); err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode removes and returns the code record, leaving a
// consumed mark behind so replays answer ErrCodeConsumed.
func (s *RedisStorage) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	payload, err := s.client.GetDel(ctx, s.codeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		seen, markErr := s.client.Exists(ctx, s.consumedKey(code)).Result()
		if markErr == nil && seen > 0 {
			return nil, ErrCodeConsumed
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	var record AuthorizationCode
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if err := s.client.Set(ctx, s.consumedKey(code), "1", s.cfg.ConsumedRetention).Err(); err != nil {
		return nil, fmt.Errorf("failed to mark authorization code consumed: %w", err)
	}
	return &record, nil
}

// MarkRefreshTokenUsed records a redeemed refresh-token ID. It reports
// ErrAlreadyExists when the ID was already marked, which signals a replay.
func (s *RedisStorage) MarkRefreshTokenUsed(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultRefreshRetention
	}
	set, err := s.client.SetNX(ctx, s.refreshKey(jti), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to mark refresh token used: %w", err)
	}
	if !set {
		return ErrAlreadyExists
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
