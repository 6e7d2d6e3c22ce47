// Package redisregistry implements the registry.Registry contract against
// Redis (or any wire-compatible server, including miniredis in tests) via
// go-redis/v9. Claim locks are a plain SET NX EX; snapshots are msgpack
// blobs under a resource:{ingester} key; counters use a pipelined batch of
// INCRBY+EXPIRE, re-arming each key's TTL on every increment.
package redisregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fluxgate/internal/apperr"
	"fluxgate/internal/backoff"
	"fluxgate/internal/logging"
	"fluxgate/internal/registry"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Registry is a registry.Registry backed by a Redis client.
type Registry struct {
	rdb    *redis.Client
	log    *slog.Logger
	policy backoff.Policy
}

var _ registry.Registry = (*Registry)(nil)

// Option configures a Registry at construction.
type Option func(*Registry)

// WithLogger overrides the component logger (default: logging.Discard()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithBackoffPolicy overrides the reconnect back-off policy.
func WithBackoffPolicy(p backoff.Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// New wraps an existing *redis.Client. Callers own the client's lifecycle
// options (TLS, pool size, sentinel/cluster mode); New only adds the
// registry semantics on top.
func New(rdb *redis.Client, opts ...Option) *Registry {
	r := &Registry{
		rdb:    rdb,
		log:    logging.Discard(),
		policy: backoff.Default,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dial connects to addr (host:port) and pings it once before returning, so
// construction-time misconfiguration fails fast instead of on first use.
func Dial(ctx context.Context, addr string, opts ...Option) (*Registry, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	r := New(rdb, opts...)
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperr.NewTransientBackendError("redisregistry: initial ping", err)
	}
	return r, nil
}

func (r *Registry) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return err
	}
	return apperr.NewTransientBackendError("redisregistry: "+op, err)
}

// Claim implements the claim-lock primitive as SET key owner NX EX ttl.
func (r *Registry) Claim(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, r.wrapErr("claim "+key, err)
	}
	if !ok {
		r.log.Debug("claim lost", "key", key)
	}
	return ok, nil
}

// Release deletes a claim only if it is still held by owner, via a small
// Lua script so release can never clobber a different owner's claim that
// has since taken over an expired key.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func (r *Registry) Release(ctx context.Context, key string, owner string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{key}, owner).Err(); err != nil {
		return r.wrapErr("release "+key, err)
	}
	return nil
}

func snapshotKey(ingester string) string { return "resource:" + ingester }

func (r *Registry) PutSnapshot(ctx context.Context, ingester string, snap registry.Snapshot) error {
	snap.Ingester = ingester
	b, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redisregistry: encode snapshot for %s: %w", ingester, err)
	}
	if err := r.rdb.Set(ctx, snapshotKey(ingester), b, 0).Err(); err != nil {
		return r.wrapErr("put snapshot "+ingester, err)
	}
	return nil
}

func (r *Registry) GetSnapshot(ctx context.Context, ingester string) (registry.Snapshot, bool, error) {
	b, err := r.rdb.Get(ctx, snapshotKey(ingester)).Bytes()
	if errors.Is(err, redis.Nil) {
		return registry.Snapshot{}, false, nil
	}
	if err != nil {
		return registry.Snapshot{}, false, r.wrapErr("get snapshot "+ingester, err)
	}
	var snap registry.Snapshot
	if err := msgpack.Unmarshal(b, &snap); err != nil {
		return registry.Snapshot{}, false, fmt.Errorf("redisregistry: decode snapshot for %s: %w", ingester, err)
	}
	return snap, true, nil
}

func deltaChannel(ingester string) string { return "delta:" + ingester }

func (r *Registry) Publish(ctx context.Context, ingester string, delta registry.Delta) error {
	delta.Ingester = ingester
	b, err := msgpack.Marshal(delta)
	if err != nil {
		return fmt.Errorf("redisregistry: encode delta for %s: %w", ingester, err)
	}
	if err := r.rdb.Publish(ctx, deltaChannel(ingester), b).Err(); err != nil {
		return r.wrapErr("publish "+ingester, err)
	}
	return nil
}

// subscription adapts redis.PubSub to registry.Subscription.
type subscription struct {
	ps  *redis.PubSub
	out chan registry.Message
	done chan struct{}
}

func (s *subscription) Channel() <-chan registry.Message { return s.out }

func (s *subscription) Close() error {
	close(s.done)
	return s.ps.Close()
}

func (r *Registry) Subscribe(ctx context.Context, pattern string) (registry.Subscription, error) {
	ps := r.rdb.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, r.wrapErr("subscribe "+pattern, err)
	}
	sub := &subscription{
		ps:   ps,
		out:  make(chan registry.Message, 64),
		done: make(chan struct{}),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

func (s *subscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- registry.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (r *Registry) IncrCounters(ctx context.Context, keys []registry.CounterIncr) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.IncrBy(ctx, k.Key, k.Delta)
		if k.TTL > 0 {
			pipe.Expire(ctx, k.Key, k.TTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, r.wrapErr("incr counters", err)
	}
	out := make([]int64, len(keys))
	for i, c := range cmds {
		out[i] = c.Val()
	}
	return out, nil
}

func (r *Registry) GetCounters(ctx context.Context, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, r.wrapErr("get counters", err)
	}
	out := make([]int64, len(keys))
	for i, c := range cmds {
		v, err := c.Int64()
		if err != nil {
			out[i] = 0
			continue
		}
		out[i] = v
	}
	return out, nil
}

func (r *Registry) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return r.wrapErr("set "+key, err)
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.wrapErr("get "+key, err)
	}
	return b, true, nil
}

func (r *Registry) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return r.wrapErr("delete "+key, err)
	}
	return nil
}

func (r *Registry) Close() error {
	return r.rdb.Close()
}

// EnsureConnected pings the backend, retrying with the configured back-off
// policy until ctx is done. Used at startup and after a TransientBackendError
// bubbles up from a suspension point, per spec's retry-on-transient rule.
func (r *Registry) EnsureConnected(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := r.rdb.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		wait := r.policy.Next(attempt)
		r.log.Warn("registry unreachable, backing off", "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
