package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPending = "pending"

// IdempotencyStore remembers processed request keys in Redis. A reserved key
// stays pending for pendingTTL at most, completed keys live for ttl.
type IdempotencyStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// DefaultIdempotencyPendingTTL bounds how long an unfinished request blocks its key.
const DefaultIdempotencyPendingTTL = 2 * time.Minute

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client *redis.Client, ttl, pendingTTL time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if pendingTTL <= 0 {
		pendingTTL = DefaultIdempotencyPendingTTL
	}
	if pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: pendingTTL}
}

// ErrIdempotencyInProgress indicates the same key is still being processed.
var ErrIdempotencyInProgress = fmt.Errorf("%w: idempotent request still in progress", ErrDuplicate)

func idempotencyKey(module, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", module, key)
}

// Reserve claims key for module. When the key was already completed the stored
// result is returned with reserved=false.
func (s *IdempotencyStore) Reserve(ctx context.Context, module, key string) (result string, reserved bool, err error) {
	if s == nil || s.client == nil {
		return "", false, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return "", false, errors.New("idempotency key required")
	}
	if module == "" {
		return "", false, errors.New("idempotency module required")
	}
	rk := idempotencyKey(module, key)
	ok, err := s.client.SetNX(ctx, rk, idempotencyPending, s.pendingTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	existing, err := s.client.Get(ctx, rk).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET, try once more
		return s.Reserve(ctx, module, key)
	}
	if err != nil {
		return "", false, err
	}
	if existing == idempotencyPending {
		return "", false, ErrIdempotencyInProgress
	}
	return existing, false, nil
}

// Complete stores the processing result for a reserved key.
func (s *IdempotencyStore) Complete(ctx context.Context, module, key, result string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Set(ctx, idempotencyKey(module, key), result, s.ttl).Err()
}

// Release removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Release(ctx context.Context, module, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.client.Del(ctx, idempotencyKey(module, key)).Err()
}
