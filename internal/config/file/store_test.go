package file

import (
	"context"
	"path/filepath"
	"testing"

	"fluxgate/internal/config"
)

func TestLoadMissingFileReturnsNil(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config for missing file, got %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s := New(path)

	in := &config.Config{
		Namespace: "ns",
		Ingesters: []config.IngesterConfig{
			{Name: "btcusd", ResourceType: "timeseries", IngesterType: "http_api", Interval: "s10"},
		},
		Users: []config.UserConfig{
			{UID: "0123456789abcdef", Status: "admin", Limits: config.RateLimitConfig{RequestsPerMinute: 60}},
		},
		Allowlist: []string{"price.*"},
	}
	if err := s.Save(context.Background(), in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Namespace != "ns" {
		t.Fatalf("namespace = %q, want ns", out.Namespace)
	}
	if len(out.Ingesters) != 1 || out.Ingesters[0].Name != "btcusd" {
		t.Fatalf("unexpected ingesters: %+v", out.Ingesters)
	}
	if len(out.Users) != 1 || out.Users[0].Limits.RequestsPerMinute != 60 {
		t.Fatalf("unexpected users: %+v", out.Users)
	}
	if len(out.Allowlist) != 1 || out.Allowlist[0] != "price.*" {
		t.Fatalf("unexpected allowlist: %+v", out.Allowlist)
	}
}
