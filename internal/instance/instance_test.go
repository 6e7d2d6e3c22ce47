package instance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fluxgate/internal/model"
	"fluxgate/internal/registry/memregistry"
)

func TestLoadOrCreateUIDPersists(t *testing.T) {
	dir := t.TempDir()
	uid1, err := LoadOrCreateUID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateUID: %v", err)
	}
	if len(uid1) != 32 {
		t.Fatalf("expected 32-hex uid, got %q", uid1)
	}

	uid2, err := LoadOrCreateUID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateUID (reload): %v", err)
	}
	if uid1 != uid2 {
		t.Fatalf("uid not stable across reloads: %q vs %q", uid1, uid2)
	}
}

func TestLoadOrCreateUIDWritesFile(t *testing.T) {
	dir := t.TempDir()
	uid, _ := LoadOrCreateUID(dir)

	path := filepath.Join(dir, ".uid")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if strings.TrimSpace(string(data)) != uid {
		t.Fatalf("file contents %q, want %q", data, uid)
	}
}

func TestChooseNameAvoidsCollision(t *testing.T) {
	taken := map[string]bool{}
	first := ChooseName(taken)
	taken[first] = true
	second := ChooseName(taken)
	if first == second {
		t.Fatalf("expected distinct names once first is taken, got %q twice", first)
	}
}

func TestRegistrarRunWritesHeartbeat(t *testing.T) {
	reg := memregistry.New(time.Now)
	defer reg.Close()

	r := NewRegistrar(reg, "ns", nil)
	ctx := context.Background()

	inst := model.Instance{UID: "uid-1", Name: "brave-otter"}
	if err := r.beat(ctx, inst); err != nil {
		t.Fatalf("beat: %v", err)
	}

	taken, err := r.LiveNames(ctx, []string{"uid-1"})
	if err != nil {
		t.Fatalf("LiveNames: %v", err)
	}
	if !taken["brave-otter"] {
		t.Fatalf("expected brave-otter to be live, got %v", taken)
	}
}
