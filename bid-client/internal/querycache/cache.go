// Package querycache is the client's request/response cache. Reads are keyed
// by query, report Idle/Loading/Success/Error, and are coalesced so that one
// request is in flight per key. Writes go through Mutate, which invalidates
// the queries they affect.
package querycache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status is the lifecycle of one cached query.
type Status int

const (
	Idle Status = iota
	Loading
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "idle"
}

// Result is the observable state of a query. Data keeps the last
// successful value while a refetch is loading or after it fails.
type Result[T any] struct {
	Status    Status
	Data      T
	Err       error
	UpdatedAt time.Time
}

type entry[T any] struct {
	result Result[T]
	stale  bool
}

// DefaultFetchTimeout bounds a shared fetch once it no longer follows any
// one caller's context.
const DefaultFetchTimeout = 30 * time.Second

// Cache stores query results of one type.
type Cache[T any] struct {
	mu           sync.Mutex
	entries      map[string]*entry[T]
	group        singleflight.Group
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
}

// New returns a cache whose successful results stay fresh for ttl.
func New[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		entries:      make(map[string]*entry[T]),
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
}

// Get returns the current state of key without fetching.
func (c *Cache[T]) Get(key string) Result[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.result
	}
	return Result[T]{}
}

// Fetch returns the cached value for key when fresh, and otherwise runs
// fetch. Concurrent callers for the same key share one fetch. The shared
// fetch keeps the first caller's values but not its cancellation, so a
// caller that gives up returns ctx.Err() while the others still get the
// result.
func (c *Cache[T]) Fetch(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{}
		c.entries[key] = e
	}
	if e.result.Status == Success && !e.stale && c.now().Sub(e.result.UpdatedAt) < c.ttl {
		data := e.result.Data
		c.mu.Unlock()
		return data, nil
	}
	e.result.Status = Loading
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		v, err := fetch(fetchCtx)
		c.store(key, v, err)
		return v, err
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (c *Cache[T]) store(key string, v T, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{}
		c.entries[key] = e
	}
	if err != nil {
		e.result.Status = Error
		e.result.Err = err
		return
	}
	e.result = Result[T]{Status: Success, Data: v, UpdatedAt: c.now()}
	e.stale = false
}

// Set stores v for key as a fresh successful result.
func (c *Cache[T]) Set(key string, v T) {
	c.store(key, v, nil)
}

// Invalidate marks keys stale so the next Fetch goes to the backend.
func (c *Cache[T]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			e.stale = true
		}
	}
}

// Mutate runs a write and, when it succeeds, invalidates the given keys.
func (c *Cache[T]) Mutate(ctx context.Context, write func(context.Context) error, invalidate ...string) error {
	if err := write(ctx); err != nil {
		return err
	}
	c.Invalidate(invalidate...)
	return nil
}
