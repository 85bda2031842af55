package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// ErrLockContended is returned when the lease could not be acquired after all
// retries.
var ErrLockContended = errors.New("store: lock contended")

const (
	lockRetryCount  = 3
	lockRetryDelay  = 200 * time.Millisecond
	lockRetryJitter = 100 * time.Millisecond
)

// Lock is a held lease on a named resource.
type Lock struct {
	store    *Store
	resource string
	token    string
}

// Lock acquires a lease on resource for ttl. Each acquisition writes a unique
// token so that only the holder can release it. Contention is retried up to
// lockRetryCount times with jittered delays before giving up.
func (s *Store) Lock(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	for attempt := 0; ; attempt++ {
		ok, err := s.SetNX(ctx, resource, token, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", resource, err)
		}
		if ok {
			return &Lock{store: s, resource: resource, token: token}, nil
		}
		if attempt >= lockRetryCount {
			return nil, fmt.Errorf("acquire lock %s: %w", resource, ErrLockContended)
		}
		delay := lockRetryDelay - lockRetryJitter + rand.N(2*lockRetryJitter)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Unlock releases the lease if this holder still owns it. Releasing an
// expired or stolen lease is not an error; the lease is simply gone.
func (l *Lock) Unlock(ctx context.Context) error {
	_, err := l.store.CompareAndDelete(ctx, l.resource, l.token)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.resource, err)
	}
	return nil
}

// Token exposes the lease token, useful for logging and tests.
func (l *Lock) Token() string { return l.token }
