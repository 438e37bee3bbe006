package dispatch

import (
	"context"
	"slices"
	"sync"
)

// KeyedMutex serializes work per entity key. Keys are always acquired in
// sorted order, so two callers sharing keys cannot deadlock.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Acquire blocks until every key is held or ctx is done. On failure nothing
// stays held. The returned release func is safe to call more than once.
func (k *KeyedMutex) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		l := k.ref(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			k.unref(key)
			k.release(held)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(func() { k.release(held) }) }, nil
}

func (k *KeyedMutex) ref(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedMutex) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		k.mu.Lock()
		l := k.locks[keys[i]]
		k.mu.Unlock()
		<-l.ch
		k.unref(keys[i])
	}
}

// Len reports how many keys are currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
