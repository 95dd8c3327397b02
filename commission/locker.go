package commission

import (
	"context"
	"sync"
)

// =============================================================================
// LOCKER - In-process keyed locks for month and record scopes
// =============================================================================

// Locker serializes work per key. Sync, Lock and Unlock hold the month key
// for their whole duration, including the status read, so no two of them
// interleave for the same month. RecalculateOne holds only its record key and
// re-checks the record's lock flag inside its store transaction.
//
// Locker only covers one process. Stores that can be shared across processes
// serialize writers themselves (see store/sqlite, BEGIN IMMEDIATE).
type Locker struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocker() *Locker {
	return &Locker{keys: make(map[string]*keyLock)}
}

// Acquire blocks until key is free or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (release func(), err error) {
	l.mu.Lock()
	kl, ok := l.keys[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.keys[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.drop(key, kl)
		})
	}, nil
}

func (l *Locker) drop(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.keys, key)
	}
}

func monthKey(m Month) string { return "month:" + m.String() }

func recordKey(emp EmployeeID, m Month) string {
	return "record:" + m.String() + ":" + string(emp)
}
