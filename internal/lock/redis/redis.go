// Package redis implements the slot lock on a shared Redis with SET NX.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/JakeFAU/realtime-price-tracker/internal/lock"
)

const keyPrefix = "price-tracker:lock:"

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// Locker claims keys with SET NX PX.
type Locker struct {
	rdb   client
	owner string
}

var _ lock.Locker = (*Locker)(nil)

// New wraps an existing client. owner is stored as the key's value so an
// operator can see which replica holds a slot.
func New(rdb client, owner string) *Locker {
	return &Locker{rdb: rdb, owner: owner}
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, owner string) (*Locker, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, owner), nil
}

// TryLock reports whether this caller won the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	ok, err := l.rdb.SetNX(ctx, keyPrefix+key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.rdb.Close()
}
