package memory

import (
	"context"
	"testing"

	"fluxgate/internal/config"
)

func TestLoadEmptyReturnsNil(t *testing.T) {
	s := New()
	cfg, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config, got %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := New()
	in := &config.Config{
		Namespace: "ns",
		Users:     []config.UserConfig{{UID: "abc", Status: "admin"}},
	}
	if err := s.Save(context.Background(), in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Namespace != "ns" || len(out.Users) != 1 || out.Users[0].UID != "abc" {
		t.Fatalf("unexpected round trip: %+v", out)
	}
}

func TestSaveIsolatesCallerMutation(t *testing.T) {
	s := New()
	in := &config.Config{Namespace: "ns"}
	s.Save(context.Background(), in)
	in.Namespace = "mutated"

	out, _ := s.Load(context.Background())
	if out.Namespace != "ns" {
		t.Fatalf("store aliased caller's Config: got %q", out.Namespace)
	}
}
