// Package runlock provides the per-role exclusion used to stop two import
// runs for the same role from overlapping.
package runlock

import (
	"context"
	"sync"
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Lock takes named, non-blocking locks. TryLock returns ok=false when the
// name is already held by someone else.
type Lock interface {
	TryLock(ctx context.Context, name string) (unlock Unlock, ok bool, err error)
}

// Local is an in-process Lock. It only excludes runs within one server.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process lock.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryLock implements Lock.
func (l *Local) TryLock(_ context.Context, name string) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[name]; busy {
		return nil, false, nil
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, true, nil
}
