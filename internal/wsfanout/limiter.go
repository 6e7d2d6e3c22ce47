package wsfanout

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fluxgate/internal/apperr"
	"fluxgate/internal/model"
	"fluxgate/internal/ratelimit"
)

// SubscribeLimiter gates a subscribe frame before it reaches authorization,
// per spec.md §4.5's "rate-limit the subscribe itself (base cost + per-topic
// cost)" rule.
type SubscribeLimiter interface {
	CheckSubscribe(user *model.User, topicCount int) error
}

// localSubscribeRate/localSubscribeBurst bound how many subscribe frames a
// single principal may send per second before the request ever reaches the
// shared registry-backed limiter, the same two-tier shape as the teacher's
// local-limiter-in-front-of-a-shared-resource idiom in server/ratelimit.go.
const (
	localSubscribeRate  = 5
	localSubscribeBurst = 10
)

// RateLimitAdapter fronts the shared nine-counter limiter with a per-process
// token bucket keyed by UID, then charges one route-cost hit per topic in a
// subscribe frame (minimum one, for an empty/ping-like frame) against the
// shared limiter under the "/ws/subscribe" path rather than a bespoke
// accounting path. DefaultRoutePoints has no entry for that path, so each
// hit costs the limiter's default points.
type RateLimitAdapter struct {
	lim *ratelimit.Limiter

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimitAdapter(lim *ratelimit.Limiter) *RateLimitAdapter {
	return &RateLimitAdapter{lim: lim, local: make(map[string]*rate.Limiter)}
}

func (a *RateLimitAdapter) localLimiter(uid string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.local[uid]
	if !ok {
		l = rate.NewLimiter(rate.Limit(localSubscribeRate), localSubscribeBurst)
		a.local[uid] = l
	}
	return l
}

func (a *RateLimitAdapter) CheckSubscribe(user *model.User, topicCount int) error {
	uid := ""
	if user != nil {
		uid = user.UID
	}
	if !a.localLimiter(uid).Allow() {
		return apperr.NewRateLimitError("/ws/subscribe", time.Second)
	}

	hits := topicCount
	if hits < 1 {
		hits = 1
	}
	for i := 0; i < hits; i++ {
		if _, err := a.lim.CheckAndIncrement(context.Background(), user, "/ws/subscribe", 0); err != nil {
			return err
		}
	}
	return nil
}
