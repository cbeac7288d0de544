package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker implements Locker with an in-process map. Used for testing
// and single-instance development.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.leases[key]; ok && time.Now().Before(lease.expiresAt) {
		return nil, ErrNotAcquired
	}

	token := uuid.New().String()
	l.leases[key] = memoryLease{token: token, expiresAt: time.Now().Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.leases[key]; ok && lease.token == token {
			delete(l.leases, key)
		}
		return nil
	}
	return release, nil
}
