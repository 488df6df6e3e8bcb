// Package lock provides per-key mutual exclusion around the roster
// check-then-write sequences. Memory backend for a single process, Redis
// for multiple replicas, mirroring the queue backend split.
package lock

import (
	"context"
	"sync"
)

// Locker serializes critical sections by key. Acquire blocks until the key
// is free or ctx is done; the returned release must always be called.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is an in-process Locker backed by a refcounted mutex per key.
// Entries are dropped as soon as the last holder releases, so the map stays
// bounded by concurrent requests, not by key cardinality.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewKeyed creates an empty in-process locker.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Acquire locks the key, giving up when ctx is done first.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// The pending Lock lands eventually; hand it straight back so the
		// next waiter isn't stuck behind an abandoned acquisition.
		go func() {
			<-acquired
			e.mu.Unlock()
			k.drop(key, e)
		}()
		return nil, ctx.Err()
	}

	release := func() {
		e.mu.Unlock()
		k.drop(key, e)
	}
	return release, nil
}

func (k *Keyed) drop(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
