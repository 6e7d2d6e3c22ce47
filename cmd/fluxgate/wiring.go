package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"fluxgate/internal/auth"
	"fluxgate/internal/config"
	"fluxgate/internal/config/file"
	"fluxgate/internal/instance"
	"fluxgate/internal/model"
	"fluxgate/internal/ratelimit"
	"fluxgate/internal/registry"
	"fluxgate/internal/registry/memregistry"
	"fluxgate/internal/registry/redisregistry"
	"fluxgate/internal/scheduler"
	"fluxgate/internal/wsfanout"
)

// noopBody is the scheduler tick body used until a concrete per-protocol
// ingester implementation (HTTP/WS API, EVM/Solana/Sui caller) is wired in
// — those bodies are external collaborators per spec.md §1's out-of-scope
// list ("the per-protocol ingester bodies ... are treated as interfaces the
// core calls"). A successful no-op tick still exercises claim/commit and
// lets the fan-out and rate limiter paths be driven end-to-end.
func noopBody(_ context.Context, _ *model.Ingester, _ time.Time) error {
	return nil
}

// engine holds every long-lived component wired together at startup.
type engine struct {
	log       *slog.Logger
	reg       registry.Registry
	runtime   *config.Runtime
	tokens    *auth.TokenService
	limiter   *ratelimit.Limiter
	scheduler *scheduler.Scheduler
	hub       *wsfanout.Hub
	fanout    *wsfanout.Fanout
	registrar *instance.Registrar
	inst      instance.Instance
}

// loadConfig reads INGESTER_CONFIGS if set, else returns an empty runtime
// (no configured ingesters/users — every caller resolves to anonymous).
func loadConfig(ctx context.Context) (*config.Runtime, error) {
	path := os.Getenv("INGESTER_CONFIGS")
	if path == "" {
		return config.NewRuntime(nil)
	}
	store := file.New(path)
	cfg, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return config.NewRuntime(cfg)
}

// newRegistry builds a registry.Registry: Redis-backed if REDIS_HOST is
// set, otherwise an in-process registry suitable for single-instance runs
// and local development, per spec.md §6's per-adapter env var convention.
func newRegistry(log *slog.Logger) registry.Registry {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return memregistry.New(time.Now)
	}
	port := getenvInt("REDIS_PORT", 6379)
	db := getenvInt("REDIS_DB", 0)
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: os.Getenv("DB_RW_USER"),
		Password: os.Getenv("DB_RW_PASS"),
		DB:       db,
	})
	return redisregistry.New(rdb, redisregistry.WithLogger(log))
}

func newEngine(ctx context.Context, log *slog.Logger) (*engine, error) {
	workdir := getenv("WORKDIR", ".")
	uid, err := instance.LoadOrCreateUID(workdir)
	if err != nil {
		return nil, err
	}

	rt, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	reg := newRegistry(log)
	registrar := instance.NewRegistrar(reg, rt.Namespace(), log)
	taken, err := registrar.LiveNames(ctx, []string{uid})
	if err != nil {
		log.Warn("instance: live-name lookup failed", "err", err)
		taken = map[string]bool{}
	}
	inst := instance.Instance{UID: uid, Name: instance.ChooseName(taken)}

	secret := []byte(getenv("JWT_SECRET_KEY", "dev-secret-change-me"))
	tokens := auth.NewTokenService(secret, 24*time.Hour)

	lim := ratelimit.New(reg, ratelimit.WithLogger(log))

	sched, err := scheduler.New(reg, uid, scheduler.WithLogger(log))
	if err != nil {
		return nil, err
	}
	for _, ing := range rt.Ingesters() {
		if err := sched.AddIngester(ing, noopBody); err != nil {
			return nil, fmt.Errorf("scheduling ingester %s: %w", ing.Name, err)
		}
	}

	hub := wsfanout.NewHub(rt,
		wsfanout.WithLogger(log),
		wsfanout.WithMaxClients(getenvInt("WS_MAX_CLIENTS", 1000)),
		wsfanout.WithClientMaxLifetime(time.Duration(getenvInt("WS_CLIENT_MAX_LIFETIME_S", 300))*time.Second),
	)
	fanout := wsfanout.NewFanout(hub, reg, rt.Namespace(), log)

	return &engine{
		log:       log,
		reg:       reg,
		runtime:   rt,
		tokens:    tokens,
		limiter:   lim,
		scheduler: sched,
		hub:       hub,
		fanout:    fanout,
		registrar: registrar,
		inst:      inst,
	}, nil
}
