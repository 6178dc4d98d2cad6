package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// NonceStore remembers signature nonces until the signatures expire.
type NonceStore interface {
	// Claim records nonce for signer and reports whether it was unused.
	Claim(ctx context.Context, signer common.Address, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore keeps nonces in process memory. Use RedisNonceStore when
// more than one replica serves the API.
type MemoryNonceStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time
	now       func() time.Time
}

// NewMemoryNonceStore creates an empty MemoryNonceStore.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryNonceStore) Claim(_ context.Context, signer common.Address, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastPrune) > time.Minute {
		for key, expires := range s.seen {
			if !now.Before(expires) {
				delete(s.seen, key)
			}
		}
		s.lastPrune = now
	}

	key := nonceKey(signer, nonce)
	if expires, ok := s.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

// RedisNonceStore shares claimed nonces between replicas with SET NX.
type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

// NewRedisNonceStore creates a RedisNonceStore. Keys are prefix + signer + nonce.
func NewRedisNonceStore(client *redis.Client, prefix string) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: prefix}
}

func (s *RedisNonceStore) Claim(ctx context.Context, signer common.Address, nonce string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.prefix+nonceKey(signer, nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim nonce: %w", err)
	}
	return ok, nil
}

func nonceKey(signer common.Address, nonce string) string {
	return signer.Hex() + ":" + nonce
}
