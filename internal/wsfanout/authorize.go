package wsfanout

import (
	"path"
	"strings"

	"fluxgate/internal/model"
)

// Allowlist is an optional set of glob patterns a topic name must match to
// be subscribable at all, independent of the protected/admin gate below. A
// nil or empty Allowlist permits every topic name that passes the other
// checks.
type Allowlist []string

func (a Allowlist) allows(topic string) bool {
	if len(a) == 0 {
		return true
	}
	for _, pattern := range a {
		if ok, _ := path.Match(pattern, topic); ok {
			return true
		}
	}
	return false
}

// authorizeTopic implements the per-subscribe checks in spec.md §4.5: the
// allow-list glob, then the protected/sys./admin. prefix gate for non-admin
// principals.
func authorizeTopic(user *model.User, topic string, allow Allowlist, lookup IngesterLookup) error {
	if !allow.allows(topic) {
		return errAccessDenied(topic)
	}
	if user != nil && user.Status == model.StatusAdmin {
		return nil
	}
	if strings.HasPrefix(topic, "sys.") || strings.HasPrefix(topic, "admin.") {
		return errAccessDenied(topic)
	}
	if lookup != nil {
		if ing, ok := lookup.Ingester(topic); ok && ing.Protected {
			return errAccessDenied(topic)
		}
	}
	return nil
}

type accessDeniedError struct{ topic string }

func (e *accessDeniedError) Error() string { return "Access denied: [" + e.topic + "]" }

func errAccessDenied(topic string) error { return &accessDeniedError{topic: topic} }
