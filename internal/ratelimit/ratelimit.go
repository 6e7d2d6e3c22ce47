// Package ratelimit implements the nine-counter (three metrics × three
// windows) atomic rate limiting contract from spec.md §4.4: requests,
// response bytes, and cost points, each capped per minute/hour/day.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"fluxgate/internal/apperr"
	"fluxgate/internal/logging"
	"fluxgate/internal/model"
	"fluxgate/internal/registry"
)

// Window is one of the three aggregation periods a metric is capped over.
type Window string

const (
	WindowMinute Window = "m"
	WindowHour   Window = "h"
	WindowDay    Window = "d"
)

// Metric is one of the three quantities tracked per window.
type Metric string

const (
	MetricRequests Metric = "rp"
	MetricBytes    Metric = "sp"
	MetricPoints   Metric = "pp"
)

// limitSpec pairs one (metric, window) counter with its cap accessor (the
// registry key is derived from the pair by counterKey), so the nine-entry
// active set can be built generically instead of nine hand-written branches.
type limitSpec struct {
	metric Metric
	window Window
	cap    func(model.RateLimitCaps) int64
}

var allSpecs = []limitSpec{
	{MetricRequests, WindowMinute, func(c model.RateLimitCaps) int64 { return c.RequestsPerMinute }},
	{MetricRequests, WindowHour, func(c model.RateLimitCaps) int64 { return c.RequestsPerHour }},
	{MetricRequests, WindowDay, func(c model.RateLimitCaps) int64 { return c.RequestsPerDay }},
	{MetricBytes, WindowMinute, func(c model.RateLimitCaps) int64 { return c.BytesPerMinute }},
	{MetricBytes, WindowHour, func(c model.RateLimitCaps) int64 { return c.BytesPerHour }},
	{MetricBytes, WindowDay, func(c model.RateLimitCaps) int64 { return c.BytesPerDay }},
	{MetricPoints, WindowMinute, func(c model.RateLimitCaps) int64 { return c.PointsPerMinute }},
	{MetricPoints, WindowHour, func(c model.RateLimitCaps) int64 { return c.PointsPerHour }},
	{MetricPoints, WindowDay, func(c model.RateLimitCaps) int64 { return c.PointsPerDay }},
}

func counterKey(metric Metric, window Window, uid string) string {
	return fmt.Sprintf("limiter:%s%s:%s", metric, window, uid)
}

// secondsUntilBoundary returns the TTL that expires a window's counter
// exactly at the ceiling of its boundary, so a key created mid-window
// expires at the top of the next one rather than a full period later.
func secondsUntilBoundary(now time.Time, w Window) time.Duration {
	switch w {
	case WindowMinute:
		next := now.Truncate(time.Minute).Add(time.Minute)
		return next.Sub(now)
	case WindowHour:
		next := now.Truncate(time.Hour).Add(time.Hour)
		return next.Sub(now)
	case WindowDay:
		y, m, d := now.Date()
		next := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return next.Sub(now)
	default:
		return time.Minute
	}
}

// Decision is the result of CheckAndIncrement.
type Decision struct {
	Bypass     bool
	Allowed    bool
	RetryAfter time.Duration
	Remaining  map[string]MetricStatus
}

// MetricStatus is the per-metric inspection result surfaced by
// GetUserLimits and included in a Decision's Remaining set.
type MetricStatus struct {
	Cap       int64
	Remaining int64
	TTL       time.Duration
	Reset     time.Time
}

// RoutePoints maps a glob pattern over request paths to its point cost.
// Patterns are matched with path.Match semantics (single-segment `*`, plus
// a `/**` suffix convention meaning "this prefix and everything below it").
type RoutePoints map[string]int64

// DefaultRoutePoints mirrors the cost table named in spec.md §4.4.
var DefaultRoutePoints = RoutePoints{
	"/*/*/schema/last": 1,
	"/*/*/history":     5,
	"/*/*/analysis":    15,
	"/admin/*":         10,
}

const defaultPoints = 10

// Cost returns the point cost for path, falling back to the longest
// matching glob, then the default.
func (rp RoutePoints) Cost(reqPath string) int64 {
	best := int64(-1)
	bestLen := -1
	for pattern, cost := range rp {
		if ok, _ := globMatch(pattern, reqPath); ok && len(pattern) > bestLen {
			best = cost
			bestLen = len(pattern)
		}
	}
	if best >= 0 {
		return best
	}
	return defaultPoints
}

// globMatch matches pattern against name using path.Match, plus a `/**`
// suffix meaning "prefix and anything below it" (path.Match's `*` does not
// cross `/` boundaries on its own).
func globMatch(pattern, name string) (bool, error) {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(name, prefix), nil
	}
	return path.Match(pattern, name)
}

// Limiter enforces the per-user multi-window caps over a shared registry.
type Limiter struct {
	mu          sync.RWMutex
	reg         registry.Registry
	routePoints RoutePoints
	blacklist   map[string]bool
	whitelist   map[string]bool
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

func WithLogger(l *slog.Logger) Option { return func(lim *Limiter) { lim.log = l } }
func WithRoutePoints(rp RoutePoints) Option {
	return func(lim *Limiter) { lim.routePoints = rp }
}
func WithClock(now func() time.Time) Option { return func(lim *Limiter) { lim.now = now } }

// New constructs a Limiter backed by reg.
func New(reg registry.Registry, opts ...Option) *Limiter {
	lim := &Limiter{
		reg:         reg,
		routePoints: DefaultRoutePoints,
		blacklist:   make(map[string]bool),
		whitelist:   make(map[string]bool),
		now:         time.Now,
		log:         logging.Discard(),
	}
	for _, o := range opts {
		o(lim)
	}
	return lim
}

// Blacklist adds a uid to the reject-outright set.
func (l *Limiter) Blacklist(uid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blacklist[uid] = true
}

// Whitelist adds a uid to the bypass-all-limits set.
func (l *Limiter) Whitelist(uid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.whitelist[uid] = true
}

func (l *Limiter) isBlacklisted(uid string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blacklist[uid]
}

func (l *Limiter) isWhitelisted(uid string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.whitelist[uid]
}

// activeSpecs returns the subset of the nine (metric, window) specs whose
// cap is non-zero for this user, per spec.md §4.4 step 4.
func activeSpecs(caps model.RateLimitCaps) []limitSpec {
	out := make([]limitSpec, 0, len(allSpecs))
	for _, spec := range allSpecs {
		if spec.cap(caps) > 0 {
			out = append(out, spec)
		}
	}
	return out
}

// CheckAndIncrement runs the full algorithm from spec.md §4.4: blacklist
// reject, whitelist/admin bypass, route cost lookup, pre-check against
// current counters, and atomic commit of the increment.
func (l *Limiter) CheckAndIncrement(ctx context.Context, user *model.User, reqPath string, responseBytes int64) (Decision, error) {
	if l.isBlacklisted(user.UID) {
		return Decision{}, apperr.NewAuthError("principal is blacklisted")
	}
	if l.isWhitelisted(user.UID) || user.Status == model.StatusAdmin {
		return Decision{Bypass: true, Allowed: true}, nil
	}

	specs := activeSpecs(user.Limits)
	if len(specs) == 0 {
		return Decision{Allowed: true}, nil
	}

	points := l.routePoints.Cost(reqPath)
	now := l.now()

	keys := make([]string, len(specs))
	for i, spec := range specs {
		keys[i] = counterKey(spec.metric, spec.window, user.UID)
	}
	current, err := l.reg.GetCounters(ctx, keys)
	if err != nil {
		return Decision{}, apperr.NewTransientBackendError("ratelimit: read counters", err)
	}

	increments := make([]int64, len(specs))
	caps := make([]int64, len(specs))
	for i, spec := range specs {
		switch spec.metric {
		case MetricRequests:
			increments[i] = 1
		case MetricBytes:
			increments[i] = responseBytes
		case MetricPoints:
			increments[i] = points
		}
		caps[i] = spec.cap(user.Limits)
	}

	// Pre-check: reject if any active metric would exceed its cap.
	var tightestRetry time.Duration
	rejected := false
	for i, spec := range specs {
		limit := caps[i]
		exceeds := current[i]+increments[i] > limit
		if spec.metric == MetricRequests {
			exceeds = current[i] >= limit
		}
		if exceeds {
			rejected = true
			retry := secondsUntilBoundary(now, spec.window)
			if tightestRetry == 0 || retry < tightestRetry {
				tightestRetry = retry
			}
		}
	}
	if rejected {
		return Decision{Allowed: false, RetryAfter: tightestRetry}, apperr.NewRateLimitError(string(specs[0].metric), tightestRetry)
	}

	// Commit: atomic pipelined increment with boundary-aligned TTL.
	incrs := make([]registry.CounterIncr, len(specs))
	for i, spec := range specs {
		incrs[i] = registry.CounterIncr{
			Key:   keys[i],
			Delta: increments[i],
			TTL:   secondsUntilBoundary(now, spec.window),
		}
	}
	newValues, err := l.reg.IncrCounters(ctx, incrs)
	if err != nil {
		return Decision{}, apperr.NewTransientBackendError("ratelimit: commit counters", err)
	}

	remaining := make(map[string]MetricStatus, len(specs))
	for i, spec := range specs {
		key := string(spec.metric) + string(spec.window)
		r := caps[i] - newValues[i]
		if r < 0 {
			r = 0
		}
		remaining[key] = MetricStatus{
			Cap:       caps[i],
			Remaining: r,
			TTL:       secondsUntilBoundary(now, spec.window),
			Reset:     now.Add(secondsUntilBoundary(now, spec.window)),
		}
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// GetUserLimits returns the current per-metric status for every active cap,
// without incrementing anything.
func (l *Limiter) GetUserLimits(ctx context.Context, user *model.User) (map[string]MetricStatus, error) {
	specs := activeSpecs(user.Limits)
	if len(specs) == 0 {
		return map[string]MetricStatus{}, nil
	}
	now := l.now()
	keys := make([]string, len(specs))
	for i, spec := range specs {
		keys[i] = counterKey(spec.metric, spec.window, user.UID)
	}
	current, err := l.reg.GetCounters(ctx, keys)
	if err != nil {
		return nil, apperr.NewTransientBackendError("ratelimit: read counters", err)
	}
	out := make(map[string]MetricStatus, len(specs))
	for i, spec := range specs {
		limit := spec.cap(user.Limits)
		r := limit - current[i]
		if r < 0 {
			r = 0
		}
		ttl := secondsUntilBoundary(now, spec.window)
		out[string(spec.metric)+string(spec.window)] = MetricStatus{
			Cap:       limit,
			Remaining: r,
			TTL:       ttl,
			Reset:     now.Add(ttl),
		}
	}
	return out, nil
}
