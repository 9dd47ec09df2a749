package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoadFunc はIDに対応するエンティティを上流から取得する関数。
type LoadFunc[T any] func(ctx context.Context, id string) (T, error)

type entityEntry[T any] struct {
	value     T
	fetchedAt time.Time
}

// EntityCache はIDごとのTTLキャッシュ（UserState, WorkflowDetailState）。
type EntityCache[T any] struct {
	opts  Options
	load  LoadFunc[T]
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entityEntry[T]
}

// NewEntityCache はEntityCacheを生成する。
func NewEntityCache[T any](opts Options, load LoadFunc[T]) *EntityCache[T] {
	return &EntityCache[T]{
		opts:    opts.withDefaults(),
		load:    load,
		entries: make(map[string]entityEntry[T]),
	}
}

// Get はキャッシュ済みのエンティティを返す。TTL切れ・未取得・forceの場合は上流から取得する。
func (c *EntityCache[T]) Get(ctx context.Context, id string, force bool) (T, error) {
	if !force {
		c.mu.Lock()
		e, ok := c.entries[id]
		c.mu.Unlock()
		if ok && c.opts.Now().Sub(e.fetchedAt) < c.opts.TTL {
			c.opts.Metrics.RecordCacheHit(c.opts.Domain)
			return e.value, nil
		}
	}
	c.opts.Metrics.RecordCacheMiss(c.opts.Domain)

	led := false
	ch := c.group.DoChan(id, func() (any, error) {
		led = true
		v, err := c.load(context.WithoutCancel(ctx), id)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		c.entries[id] = entityEntry[T]{value: v, fetchedAt: c.opts.Now()}
		c.mu.Unlock()
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Shared && !led {
			c.opts.Metrics.RecordDedupShared(c.opts.Domain)
		}
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

// Peek は取得を行わずにキャッシュ済みの値を返す。
func (c *EntityCache[T]) Peek(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e.value, ok
}

// Update はキャッシュ済みのエンティティをfnで書き換える。取得時刻は変えない。
func (c *EntityCache[T]) Update(id string, fn func(*T)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	fn(&e.value)
	c.entries[id] = e
	return true
}

// Invalidate はIDのキャッシュを破棄する。
func (c *EntityCache[T]) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
