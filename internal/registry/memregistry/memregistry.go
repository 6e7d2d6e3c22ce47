// Package memregistry provides an in-memory registry.Registry implementation
// for unit tests that don't need real pub/sub fan-out. Integration tests
// that exercise Subscribe should use miniredis plus redisregistry instead;
// this package serves Claim, Snapshot, Counter and Set/Get/Delete call sites.
// Counters never expire here: IncrCounters ignores CounterIncr.TTL.
package memregistry

import (
	"context"
	"sync"
	"time"

	"fluxgate/internal/registry"
)

type claimEntry struct {
	owner   string
	expires time.Time
}

// Registry is a mutex-guarded in-memory registry.Registry.
type Registry struct {
	mu        sync.Mutex
	claims    map[string]claimEntry
	snapshots map[string]registry.Snapshot
	kv        map[string]kvEntry
	counters  map[string]int64
	now       func() time.Time
}

type kvEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

var _ registry.Registry = (*Registry)(nil)

// New returns an empty Registry. now defaults to time.Now if nil, and exists
// so tests can control claim-expiry without sleeping.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		claims:    make(map[string]claimEntry),
		snapshots: make(map[string]registry.Snapshot),
		kv:        make(map[string]kvEntry),
		counters:  make(map[string]int64),
		now:       now,
	}
}

func (r *Registry) Claim(_ context.Context, key string, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.claims[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	r.claims[key] = claimEntry{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (r *Registry) Release(_ context.Context, key string, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.claims[key]; ok && e.owner == owner {
		delete(r.claims, key)
	}
	return nil
}

func (r *Registry) PutSnapshot(_ context.Context, ingester string, snap registry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap.Ingester = ingester
	fields := make(map[string]any, len(snap.Fields))
	for k, v := range snap.Fields {
		fields[k] = v
	}
	snap.Fields = fields
	r.snapshots[ingester] = snap
	return nil
}

func (r *Registry) GetSnapshot(_ context.Context, ingester string) (registry.Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok := r.snapshots[ingester]
	return snap, ok, nil
}

// Publish is a no-op in the in-memory registry: tests that need delivery
// should use miniredis-backed redisregistry instead.
func (r *Registry) Publish(context.Context, string, registry.Delta) error { return nil }

// Subscribe always returns an already-closed subscription; see Publish.
func (r *Registry) Subscribe(context.Context, string) (registry.Subscription, error) {
	ch := make(chan registry.Message)
	close(ch)
	return closedSubscription{ch: ch}, nil
}

type closedSubscription struct{ ch chan registry.Message }

func (s closedSubscription) Channel() <-chan registry.Message { return s.ch }
func (s closedSubscription) Close() error                    { return nil }

func (r *Registry) IncrCounters(_ context.Context, keys []registry.CounterIncr) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int64, len(keys))
	for i, k := range keys {
		r.counters[k.Key] += k.Delta
		out[i] = r.counters[k.Key]
	}
	return out, nil
}

func (r *Registry) GetCounters(_ context.Context, keys []string) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = r.counters[k]
	}
	return out, nil
}

func (r *Registry) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	e := kvEntry{value: cp}
	if ttl > 0 {
		e.expires = r.now().Add(ttl)
	}
	r.kv[key] = e
	return nil
}

func (r *Registry) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && r.now().After(e.expires) {
		delete(r.kv, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (r *Registry) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.kv, key)
	return nil
}

func (r *Registry) Close() error { return nil }
