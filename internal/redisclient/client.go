package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrCacheMiss       = errors.New("cache miss")
	ErrSessionNotFound = errors.New("session not found")
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveSession stores the access token of a client with TTL
func (c *Client) SaveSession(ctx context.Context, clientID, token string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, sessionKey(clientID), token, ttl).Err(); err != nil {
		return fmt.Errorf("save session failed: %w", err)
	}
	return nil
}

// LoadSession returns the stored access token of a client
func (c *Client) LoadSession(ctx context.Context, clientID string) (string, error) {
	token, err := c.rdb.Get(ctx, sessionKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load session failed: %w", err)
	}
	return token, nil
}

// DeleteSession removes the stored session of a client
func (c *Client) DeleteSession(ctx context.Context, clientID string) error {
	if err := c.rdb.Del(ctx, sessionKey(clientID)).Err(); err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}

// GetJSON decodes the value at key into dest, returning ErrCacheMiss when absent
func (c *Client) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

// SetJSON stores v at key as JSON with TTL
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func sessionKey(clientID string) string {
	return fmt.Sprintf("session:%s", clientID)
}
