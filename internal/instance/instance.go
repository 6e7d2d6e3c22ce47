// Package instance gives this process a stable identity: a 32-hex UID
// persisted under WORKDIR's .uid file (spec.md §6) and a human-friendly
// name drawn from a petname dictionary, deduplicated against whichever
// other instances are currently live in the registry.
//
// Self-registration (the heartbeat loop) is grounded on the teacher's
// internal/cluster peer-freshness idea (internal/cluster/peerstate.go):
// here the TTL-expiring record lives in the shared registry instead of an
// in-process map, so every instance in the cluster — not just this
// process's Raft peers — can enumerate who else is alive.
package instance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustinkirkland/golang-petname"

	"fluxgate/internal/logging"
	"fluxgate/internal/model"
	"fluxgate/internal/registry"
)

const uidFile = ".uid"

// heartbeatInterval is how often Run refreshes this instance's registry
// entry; heartbeatTTL is how long an entry survives without a refresh
// before another instance may reuse its name.
const (
	heartbeatInterval = 30 * time.Second
	heartbeatTTL       = 90 * time.Second
)

// LoadOrCreateUID reads workdir/.uid, creating it with a fresh random
// 32-hex UID if absent.
func LoadOrCreateUID(workdir string) (string, error) {
	path := filepath.Join(workdir, uidFile)
	data, err := os.ReadFile(path)
	if err == nil {
		uid := strings.TrimSpace(string(data))
		if uid != "" {
			return uid, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("instance: generating uid: %w", err)
	}
	uid := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(uid+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("instance: writing %s: %w", path, err)
	}
	return uid, nil
}

// romanNumerals is the small collision-suffix sequence this instance type
// cycles through (I, II, III, ... XX is far more than any single cluster
// should ever need).
var romanNumerals = []string{
	"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X",
	"XI", "XII", "XIII", "XIV", "XV", "XVI", "XVII", "XVIII", "XIX", "XX",
}

// ChooseName picks a two-word petname and appends a Roman-numeral suffix
// only if it collides with a name already present in taken.
func ChooseName(taken map[string]bool) string {
	base := petname.Generate(2, "-")
	if !taken[base] {
		return base
	}
	for _, suffix := range romanNumerals {
		candidate := base + "-" + suffix
		if !taken[candidate] {
			return candidate
		}
	}
	return base + "-" + fmt.Sprint(time.Now().UnixNano())
}

// Registrar maintains this instance's heartbeat entry in the shared
// registry so other instances (and the admin surface) can enumerate live
// members of the cluster.
type Registrar struct {
	reg registry.Registry
	ns  string
	log *slog.Logger
}

// NewRegistrar constructs a Registrar for the given namespace.
func NewRegistrar(reg registry.Registry, ns string, log *slog.Logger) *Registrar {
	return &Registrar{reg: reg, ns: ns, log: logging.Default(log)}
}

func (r *Registrar) key(uid string) string {
	return r.ns + ":instance:" + uid
}

// LiveNames scans the registry for instance keys and returns the set of
// names currently in use, to feed ChooseName. Since Registry has no native
// key-scan primitive, callers that need this typically keep their own
// small roster; this helper is a best-effort convenience used only at
// startup from a known candidate set.
func (r *Registrar) LiveNames(ctx context.Context, candidateUIDs []string) (map[string]bool, error) {
	taken := make(map[string]bool, len(candidateUIDs))
	for _, uid := range candidateUIDs {
		data, ok, err := r.reg.Get(ctx, r.key(uid))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		inst, err := decode(data)
		if err != nil {
			continue
		}
		taken[inst.Name] = true
	}
	return taken, nil
}

// Run writes this instance's heartbeat entry immediately, then refreshes
// it every heartbeatInterval until ctx is cancelled.
func (r *Registrar) Run(ctx context.Context, inst model.Instance) error {
	if err := r.beat(ctx, inst); err != nil {
		r.log.Warn("instance: heartbeat failed", "uid", inst.UID, "err", err)
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.beat(ctx, inst); err != nil {
				r.log.Warn("instance: heartbeat failed", "uid", inst.UID, "err", err)
			}
		}
	}
}

func (r *Registrar) beat(ctx context.Context, inst model.Instance) error {
	return r.reg.Set(ctx, r.key(inst.UID), encode(inst), heartbeatTTL)
}

func encode(inst model.Instance) []byte {
	return []byte(inst.UID + "\x00" + inst.Name)
}

func decode(data []byte) (model.Instance, error) {
	parts := strings.SplitN(string(data), "\x00", 2)
	if len(parts) != 2 {
		return model.Instance{}, fmt.Errorf("instance: malformed heartbeat record")
	}
	return model.Instance{UID: parts[0], Name: parts[1]}, nil
}
