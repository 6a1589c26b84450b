package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRevoked is returned when a token identity is revoked twice.
var ErrAlreadyRevoked = errors.New("token already revoked")

// Blacklist records revoked token identities until their natural expiry.
// A revoked identity must never pass verification again, regardless of the
// token's remaining validity window.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

const revokedKeyPrefix = "revoked:"

// RedisBlacklist stores revoked token identities in Redis with a TTL
// matching the token's remaining lifetime, so entries expire with the token.
type RedisBlacklist struct {
	client *redis.Client
}

// NewRedisBlacklist connects to Redis and verifies the connection.
func NewRedisBlacklist(addr, password string, db int) (*RedisBlacklist, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisBlacklist{client: client}, nil
}

func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	set, err := b.client.SetNX(ctx, revokedKeyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return err
	}
	if !set {
		return ErrAlreadyRevoked
	}
	return nil
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying Redis connection.
func (b *RedisBlacklist) Close() error {
	return b.client.Close()
}

// MemoryBlacklist is an in-process fallback for single-instance deployments
// and tests. Entries carry a deadline; a background janitor purges the ones
// whose token would have expired anyway.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time

	ticker *time.Ticker
	done   chan bool
}

// NewMemoryBlacklist creates an empty in-process blacklist. Call Run in a
// goroutine to start the janitor.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		entries: make(map[string]time.Time),
		done:    make(chan bool),
	}
}

func (b *MemoryBlacklist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if deadline, ok := b.entries[jti]; ok && time.Now().Before(deadline) {
		return ErrAlreadyRevoked
	}
	b.entries[jti] = time.Now().Add(ttl)
	return nil
}

func (b *MemoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	deadline, ok := b.entries[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(b.entries, jti)
		return false, nil
	}
	return true, nil
}

// Run starts the periodic purge of expired entries.
func (b *MemoryBlacklist) Run() {
	log.Info().Msg("Starting background blacklist janitor...")
	b.ticker = time.NewTicker(time.Minute)
	defer b.ticker.Stop()

	for {
		select {
		case <-b.done:
			log.Info().Msg("Stopping background blacklist janitor.")
			return
		case <-b.ticker.C:
			b.purge()
		}
	}
}

// Stop signals the janitor to stop.
func (b *MemoryBlacklist) Stop() {
	b.done <- true
}

func (b *MemoryBlacklist) purge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for jti, deadline := range b.entries {
		if now.After(deadline) {
			delete(b.entries, jti)
		}
	}
}
