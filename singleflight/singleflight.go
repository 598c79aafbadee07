// Package singleflight is the request-coalescing registry spec.md
// §4.5 names: concurrent Get misses for the same key share one loader
// call instead of stampeding the origin.
//
// It keeps the donor RequestCoalescer's map-of-in-flight-calls shape,
// generalized two ways the donor didn't need: the map is sharded
// (pkg/shard) so unrelated keys never block each other's registry
// lock, and a waiter's own context cancellation never cancels the
// loader — other callers may still be waiting on its result, so the
// loader always runs to completion in its own goroutine. Waiters park
// on a close-able channel rather than a sync.WaitGroup, so each one
// can also stop waiting when its own context is cancelled.
package singleflight

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kirky-X/oxcache/oxerrors"
	"github.com/Kirky-X/oxcache/pkg/shard"
)

const shardCount = 32

type call struct {
	done chan struct{}
	val  interface{}
	err  error
}

// Registry coalesces concurrent loads for the same key.
type Registry struct {
	service string
	shards  []*lane
}

type lane struct {
	mu    sync.Mutex
	calls map[string]*call
}

// New builds a Registry. service names the owning cache for error tagging.
func New(service string) *Registry {
	r := &Registry{service: service, shards: make([]*lane, shardCount)}
	for i := range r.shards {
		r.shards[i] = &lane{calls: make(map[string]*call)}
	}
	return r
}

func (r *Registry) laneFor(key string) *lane {
	return r.shards[shard.Of(key, shardCount)]
}

// Do executes fn for key if no call is in flight, or waits for the
// existing one otherwise. Cancelling ctx stops this caller from
// waiting but never cancels fn itself — whoever's goroutine is running
// it keeps running to completion so other waiters still get an answer.
func (r *Registry) Do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	ln := r.laneFor(key)

	ln.mu.Lock()
	if c, ok := ln.calls[key]; ok {
		ln.mu.Unlock()
		return wait(ctx, c)
	}

	c := &call{done: make(chan struct{})}
	ln.calls[key] = c
	ln.mu.Unlock()

	go r.run(ln, key, c, fn)

	return wait(ctx, c)
}

func (r *Registry) run(ln *lane, key string, c *call, fn func() (interface{}, error)) {
	defer func() {
		if p := recover(); p != nil {
			c.err = oxerrors.NewInternalError(r.service, fmt.Sprintf("single-flight loader panicked: %v", p))
		}
		ln.mu.Lock()
		delete(ln.calls, key)
		ln.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn()
}

func wait(ctx context.Context, c *call) (interface{}, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports whether a call for key is currently running.
func (r *Registry) InFlight(key string) bool {
	ln := r.laneFor(key)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	_, ok := ln.calls[key]
	return ok
}
