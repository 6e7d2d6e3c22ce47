package config

import (
	"context"
	"fmt"
	"sync"

	"fluxgate/internal/model"
)

// Runtime is the loaded, indexed view of a Config used by the rest of the
// engine: it satisfies auth.UserStore and wsfanout.IngesterLookup by
// structural typing, without either package importing this one.
type Runtime struct {
	mu        sync.RWMutex
	namespace string
	allowlist []string
	users     map[string]*model.User
	ingesters map[string]*model.Ingester
}

// NewRuntime indexes cfg's ingesters and users by name/UID. A nil cfg
// produces an empty Runtime (no ingesters, no provisioned users — every
// caller resolves to an anonymous principal).
func NewRuntime(cfg *Config) (*Runtime, error) {
	rt := &Runtime{
		users:     make(map[string]*model.User),
		ingesters: make(map[string]*model.Ingester),
	}
	if cfg == nil {
		return rt, nil
	}
	rt.namespace = cfg.Namespace
	rt.allowlist = cfg.Allowlist

	for _, ic := range cfg.Ingesters {
		ing, err := ic.ToIngester()
		if err != nil {
			return nil, fmt.Errorf("config: ingester %s: %w", ic.Name, err)
		}
		rt.ingesters[ing.Name] = ing
	}
	for _, uc := range cfg.Users {
		if uc.UID == "" {
			return nil, fmt.Errorf("config: user with empty UID")
		}
		rt.users[uc.UID] = uc.ToUser()
	}
	return rt, nil
}

// Namespace is the registry key/channel prefix this instance uses.
func (rt *Runtime) Namespace() string { return rt.namespace }

// Allowlist is the WebSocket fan-out's topic glob allow-list.
func (rt *Runtime) Allowlist() []string { return rt.allowlist }

// GetUser implements auth.UserStore.
func (rt *Runtime) GetUser(_ context.Context, uid string) (*model.User, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.users[uid], nil
}

// Ingester implements wsfanout.IngesterLookup.
func (rt *Runtime) Ingester(name string) (*model.Ingester, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ing, ok := rt.ingesters[name]
	return ing, ok
}

// Ingesters returns every configured ingester, for the scheduler to wire up
// at startup.
func (rt *Runtime) Ingesters() []*model.Ingester {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*model.Ingester, 0, len(rt.ingesters))
	for _, ing := range rt.ingesters {
		out = append(out, ing)
	}
	return out
}

// PutUser registers or replaces a runtime user record (e.g. after a wallet
// account is provisioned via the auth surface). It does not persist the
// change back to the backing Store; callers that need durability save the
// updated Config explicitly.
func (rt *Runtime) PutUser(u *model.User) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.users[u.UID] = u
}
