package wsfanout

import (
	"testing"

	"fluxgate/internal/model"
)

type stubLookup struct {
	ingesters map[string]*model.Ingester
}

func (s *stubLookup) Ingester(name string) (*model.Ingester, bool) {
	ing, ok := s.ingesters[name]
	return ing, ok
}

func TestAuthorizeTopicAdminBypassesEverything(t *testing.T) {
	admin := &model.User{UID: "a", Status: model.StatusAdmin}
	if err := authorizeTopic(admin, "sys.users", nil, nil); err != nil {
		t.Fatalf("admin should access sys.* topics: %v", err)
	}
}

func TestAuthorizeTopicRejectsSysPrefixForNonAdmin(t *testing.T) {
	anon := &model.User{UID: "ip-1", Status: model.StatusAnonymous}
	err := authorizeTopic(anon, "sys.users", nil, nil)
	if err == nil {
		t.Fatal("expected denial for sys. topic")
	}
	if err.Error() != "Access denied: [sys.users]" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestAuthorizeTopicRejectsProtectedIngester(t *testing.T) {
	public := &model.User{UID: "u", Status: model.StatusPublic}
	lookup := &stubLookup{ingesters: map[string]*model.Ingester{
		"vault_balances": {Name: "vault_balances", Protected: true},
	}}
	err := authorizeTopic(public, "vault_balances", nil, lookup)
	if err == nil {
		t.Fatal("expected denial for protected ingester")
	}
}

func TestAuthorizeTopicAllowsUnprotected(t *testing.T) {
	public := &model.User{UID: "u", Status: model.StatusPublic}
	lookup := &stubLookup{ingesters: map[string]*model.Ingester{
		"btcusd": {Name: "btcusd", Protected: false},
	}}
	if err := authorizeTopic(public, "btcusd", nil, lookup); err != nil {
		t.Fatalf("expected unprotected topic allowed: %v", err)
	}
}

func TestAllowlistRejectsUnmatchedPattern(t *testing.T) {
	public := &model.User{UID: "u", Status: model.StatusPublic}
	err := authorizeTopic(public, "other", Allowlist{"price.*"}, nil)
	if err == nil {
		t.Fatal("expected denial for topic outside allowlist")
	}
}

func TestAllowlistAllowsMatchedPattern(t *testing.T) {
	public := &model.User{UID: "u", Status: model.StatusPublic}
	if err := authorizeTopic(public, "price.btc", Allowlist{"price.*"}, nil); err != nil {
		t.Fatalf("expected allowlisted topic allowed: %v", err)
	}
}
