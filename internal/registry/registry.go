// Package registry defines the shared-state contract (C2 in the engine's
// component table): claim locks, live field snapshots, pub/sub channels,
// limiter counters, and cached cross-references all live behind this one
// interface so every other subsystem depends on Redis-semantics, not on
// Redis itself.
package registry

import (
	"context"
	"strconv"
	"time"
)

// Snapshot is the last-committed value set for one ingester, keyed by field
// name. It is what {Ingester.field} placeholder resolution reads back.
type Snapshot struct {
	Ingester  string
	BucketEnd time.Time
	Fields    map[string]any
}

// Delta is published on an ingester's channel after a successful tick, and
// is what the WS fan-out hub relays to subscribed clients.
type Delta struct {
	Ingester  string
	BucketEnd time.Time
	Fields    map[string]any
}

// Message is a registry-channel payload delivered to a Subscription.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub feed. Callers must call Close when done.
type Subscription interface {
	// Channel returns the delivery channel. It is closed when the
	// subscription is closed or the underlying connection is lost.
	Channel() <-chan Message
	Close() error
}

// Registry is the shared key-value/pub-sub contract backing C2. All methods
// take a context and may block on network I/O; callers run them on the
// worker pool, never on a cron handler's own goroutine for longer than
// necessary (spec's suspension-point rule).
type Registry interface {
	// Claim attempts to acquire the exclusive right to run one (ingester,
	// bucket) tick. It is a SET key value NX EX ttl: true means the caller
	// now owns the bucket; false means another instance already does, and
	// the caller must skip the tick silently.
	Claim(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error)

	// Release explicitly drops a claim before its TTL expires. Ingester
	// bodies never call this themselves (a failed tick leaves the claim to
	// expire naturally); it exists for orderly shutdown and tests.
	Release(ctx context.Context, key string, owner string) error

	// PutSnapshot stores the latest field values for an ingester, replacing
	// whatever was there. Snapshots are msgpack-encoded on the wire.
	PutSnapshot(ctx context.Context, ingester string, snap Snapshot) error

	// GetSnapshot fetches the latest stored snapshot for an ingester.
	// Returns (Snapshot{}, false, nil) if nothing has been written yet.
	GetSnapshot(ctx context.Context, ingester string) (Snapshot, bool, error)

	// Publish fires a delta on the ingester's channel for WS fan-out.
	Publish(ctx context.Context, ingester string, delta Delta) error

	// Subscribe opens a pub/sub feed matching pattern (a glob over channel
	// names, e.g. "delta:*" to mirror every ingester).
	Subscribe(ctx context.Context, pattern string) (Subscription, error)

	// IncrCounters atomically increments a batch of counters (used by the
	// rate limiter's nine metric×window keys) and returns the post-increment
	// value of each, in the same order as keys. A key whose CounterIncr.TTL
	// is positive has its expiry set to that TTL on every increment.
	IncrCounters(ctx context.Context, keys []CounterIncr) ([]int64, error)

	// GetCounters reads a batch of counters in one pipelined round trip.
	// Missing keys read back as 0.
	GetCounters(ctx context.Context, keys []string) ([]int64, error)

	// Set/Get/Delete are the general-purpose primitives backing cached
	// cross-references and instance self-registration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error

	// Close releases any held connections.
	Close() error
}

// CounterIncr is one counter to increment in an IncrCounters batch.
type CounterIncr struct {
	Key   string
	Delta int64
	TTL   time.Duration
}

// ClaimKey formats the claim key for one (ingester, bucket) tick per the
// engine's claim-lock convention: claim:{ingester.id}:{bucketStartEpochSec}.
func ClaimKey(ingesterID string, bucketStart time.Time) string {
	return "claim:" + ingesterID + ":" + strconv.FormatInt(bucketStart.Unix(), 10)
}

// ClaimTTL caps a claim's lifetime at min(interval*2, 300s), so a crashed
// owner's claim never lingers longer than five minutes.
func ClaimTTL(interval time.Duration) time.Duration {
	const maxTTL = 300 * time.Second
	d := interval * 2
	if d > maxTTL {
		return maxTTL
	}
	return d
}
