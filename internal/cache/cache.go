package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"washly/backend/internal/domain"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

// MethodCache keeps a tenant's payment-method catalog close to the service.
type MethodCache interface {
	Get(ctx context.Context, tenantID string) ([]domain.PaymentMethod, bool, error)
	Set(ctx context.Context, tenantID string, methods []domain.PaymentMethod, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID string) error
}

type NoopMethodCache struct{}

func (NoopMethodCache) Get(_ context.Context, _ string) ([]domain.PaymentMethod, bool, error) {
	return nil, false, nil
}

func (NoopMethodCache) Set(_ context.Context, _ string, _ []domain.PaymentMethod, _ time.Duration) error {
	return nil
}

func (NoopMethodCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

// Locker serializes work on a key. The returned release func must be called
// exactly once.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// LocalLocker is a per-key mutex for single-instance deployments. ttl is
// ignored; the lock lives until released or ctx ends the wait.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, entry)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.drop(key, entry)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, entry *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
