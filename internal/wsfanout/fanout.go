package wsfanout

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"fluxgate/internal/logging"
	"fluxgate/internal/registry"
)

// deltaPayload mirrors registry.Delta's wire shape. Registry implementations
// msgpack-encode Delta when publishing (see SPEC_FULL.md's domain-stack
// wiring for vmihailenco/msgpack); the fan-out task decodes it back here.
type deltaPayload struct {
	Ingester  string         `msgpack:"ingester"`
	BucketEnd time.Time      `msgpack:"bucket_end"`
	Fields    map[string]any `msgpack:"fields"`
}

// Fanout maintains one background psubscribe on the namespaced pattern
// "{ns}:*" and dispatches each message to the hub's subscribers of the
// matching topic, per spec.md §4.5.
type Fanout struct {
	hub *Hub
	reg registry.Registry
	ns  string
	log *slog.Logger
}

// NewFanout constructs a Fanout that mirrors reg's pub/sub channel under
// namespace ns into hub.
func NewFanout(hub *Hub, reg registry.Registry, ns string, log *slog.Logger) *Fanout {
	return &Fanout{hub: hub, reg: reg, ns: ns, log: logging.Default(log)}
}

// Run subscribes to "{ns}:*" and dispatches messages until ctx is
// cancelled or the subscription errors.
func (f *Fanout) Run(ctx context.Context) error {
	sub, err := f.reg.Subscribe(ctx, f.ns+":*")
	if err != nil {
		return err
	}
	defer sub.Close()

	prefix := f.ns + ":"
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, prefix)

			var payload deltaPayload
			if err := msgpack.Unmarshal(msg.Payload, &payload); err != nil {
				f.log.Warn("fanout: malformed delta payload", "channel", msg.Channel, "err", err)
				continue
			}
			at := payload.BucketEnd
			if at.IsZero() {
				at = time.Now()
			}
			f.hub.dispatch(topic, payload.Fields, at)
		}
	}
}
