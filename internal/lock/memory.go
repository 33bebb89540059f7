package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker with process-local leases.
// Locks are not shared across processes, so it only fits single-node deployments.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

type lease struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLocker creates a locker and starts its expiry sweep.
func NewMemoryLocker() *MemoryLocker {
	m := &MemoryLocker{
		leases: make(map[string]lease),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go m.sweepLoop(30 * time.Second)
	return m
}

// Stop ends the expiry sweep.
func (m *MemoryLocker) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *MemoryLocker) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryLocker) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, l := range m.leases {
		if !now.Before(l.expiresAt) {
			delete(m.leases, key)
		}
	}
}

// active returns the unexpired lease for key. Callers hold m.mu.
func (m *MemoryLocker) active(key string) (lease, bool) {
	l, ok := m.leases[key]
	if !ok {
		return lease{}, false
	}
	if !m.now().Before(l.expiresAt) {
		delete(m.leases, key)
		return lease{}, false
	}
	return l, true
}

// Acquire takes the lock if it is free or expired.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.active(key); held {
		return false, nil
	}

	m.leases[key] = lease{
		token:     uuid.NewString(),
		expiresAt: m.now().Add(ttl),
	}
	return true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return retry(ctx, maxRetries, retryDelay, func() (bool, error) {
		return m.Acquire(ctx, key, ttl)
	})
}

// Release frees the lock. Returns false if it wasn't held.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.active(key); !held {
		return false, nil
	}
	delete(m.leases, key)
	return true, nil
}

// Extend pushes the expiry of a held lock to now+ttl.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.active(key)
	if !held {
		return false, nil
	}
	l.expiresAt = m.now().Add(ttl)
	m.leases[key] = l
	return true, nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, held := m.active(key)
	return held, nil
}

// retry calls try up to maxRetries+1 times, sleeping retryDelay in between.
func retry(ctx context.Context, maxRetries int, retryDelay time.Duration, try func() (bool, error)) (bool, error) {
	for i := 0; i <= maxRetries; i++ {
		acquired, err := try()
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		if i < maxRetries {
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return false, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
