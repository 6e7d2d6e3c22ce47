// Package scheduler owns the wall-clock calendar of every configured
// ingester and coordinates at-most-one-writer-per-(ingester, bucket) across
// a cluster of instances via internal/registry (C2), per spec.md §4.1.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"fluxgate/internal/logging"
	"fluxgate/internal/model"
	"fluxgate/internal/registry"
)

// Body is the per-tick ingester implementation: fetch raw data, run the
// transformation engine over ing.Fields, and mutate their Value in place.
// The scheduler treats a nil return as success and a non-nil return as a
// failed tick (logged, claim left to expire).
type Body func(ctx context.Context, ing *model.Ingester, bucketStart time.Time) error

// Status is the lifecycle state of one ingester's most recent tick.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusSkipped // another instance owned the bucket's claim
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// JobProgress tracks the live state of one ingester's scheduling, safe for
// concurrent reads from ListJobs while a tick is in flight.
type JobProgress struct {
	mu        sync.RWMutex
	Status    Status
	LastRun   time.Time
	LastError string
}

func (p *JobProgress) snapshot() JobProgress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return JobProgress{Status: p.Status, LastRun: p.LastRun, LastError: p.LastError}
}

func (p *JobProgress) setRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = StatusRunning
}

func (p *JobProgress) setDone(t time.Time, status Status, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = status
	p.LastRun = t
	p.LastError = errMsg
}

// JobInfo describes one registered ingester job for external introspection
// (admin surface), mirroring the orchestrator's ListJobs/JobInfo shape.
type JobInfo struct {
	Ingester string
	Interval model.Interval
	Schedule string
	NextRun  time.Time
	Progress JobProgress
}

type registration struct {
	ing      *model.Ingester
	body     Body
	progress *JobProgress
	job      gocron.Job
}

// Scheduler is the cron wheel described in spec.md §4.1: one gocron job per
// ingester interval, with claim-lock coordination gating every firing.
type Scheduler struct {
	mu          sync.Mutex
	cron        gocron.Scheduler
	reg         registry.Registry
	instanceID  string
	jobs        map[string]*registration
	maxTickCap  time.Duration
	log         *slog.Logger
	now         func() time.Time
	running     bool
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithMaxTickDuration caps every tick's deadline regardless of interval
// length (the "max_tick_duration" term in the deadline formula).
func WithMaxTickDuration(d time.Duration) Option {
	return func(s *Scheduler) { s.maxTickCap = d }
}

// WithClock overrides the wall clock; for tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New constructs a Scheduler bound to reg for claim coordination. instanceID
// identifies this process as the claim owner (see internal/instance).
func New(reg registry.Registry, instanceID string, opts ...Option) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create cron scheduler: %w", err)
	}
	s := &Scheduler{
		cron:       gs,
		reg:        reg,
		instanceID: instanceID,
		jobs:       make(map[string]*registration),
		maxTickCap: 5 * time.Minute,
		log:        logging.Discard(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// tickDeadline computes min(interval_sec - ε, max_tick_duration) from
// spec.md §4.1 step 3. ε is one second, enough slack for the deadline to
// always land strictly inside the next bucket boundary.
func tickDeadline(interval time.Duration, cap time.Duration) time.Duration {
	const epsilon = time.Second
	d := interval - epsilon
	if d <= 0 {
		d = interval
	}
	if d > cap {
		return cap
	}
	return d
}

// AddIngester registers body to run on ing's configured interval. Must be
// called before Start.
func (s *Scheduler) AddIngester(ing *model.Ingester, body Body) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[ing.Name]; exists {
		return fmt.Errorf("scheduler: ingester %q already registered", ing.Name)
	}
	cronExpr, err := ing.Interval.CronExpr()
	if err != nil {
		return fmt.Errorf("scheduler: ingester %q: %w", ing.Name, err)
	}
	withSeconds := len(ing.Interval) > 0 && ing.Interval[0] == 's'

	reg := &registration{ing: ing, body: body, progress: &JobProgress{Status: StatusPending}}

	job, err := s.cron.NewJob(
		gocron.CronJob(cronExpr, withSeconds),
		gocron.NewTask(func() { s.fire(reg) }),
		gocron.WithName(ing.Name),
	)
	if err != nil {
		return fmt.Errorf("scheduler: register job for %q: %w", ing.Name, err)
	}
	reg.job = job
	s.jobs[ing.Name] = reg
	s.log.Info("ingester scheduled", "ingester", ing.Name, "cron", cronExpr)
	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts all scheduled firing. In-flight ticks are not interrupted;
// callers that need a hard deadline should cancel the context they derived
// from, if any, separately.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.cron.Shutdown()
}

// fire is invoked by gocron on every cron boundary. It performs the claim,
// runs the body under a deadline, and on success commits the resulting
// snapshot and delta to the registry, per spec.md §4.1 steps 1-4.
func (s *Scheduler) fire(reg *registration) {
	ing := reg.ing
	bucketStart, err := ing.Interval.BucketStart(s.now())
	if err != nil {
		s.log.Error("invalid interval, skipping tick", "ingester", ing.Name, "err", err)
		return
	}

	intervalDur, err := ing.Interval.Duration()
	if err != nil {
		s.log.Error("invalid interval duration, skipping tick", "ingester", ing.Name, "err", err)
		return
	}

	ctx := context.Background()
	key := registry.ClaimKey(ing.ID(), bucketStart)
	ttl := registry.ClaimTTL(intervalDur)

	claimed, err := s.reg.Claim(ctx, key, s.instanceID, ttl)
	if err != nil {
		s.log.Warn("claim attempt failed, skipping tick", "ingester", ing.Name, "bucket", bucketStart, "err", err)
		return
	}
	if !claimed {
		reg.progress.setDone(bucketStart, StatusSkipped, "")
		return
	}

	reg.progress.setRunning()
	s.log.Debug("claim acquired", "ingester", ing.Name, "bucket", bucketStart, "owner", s.instanceID)

	deadline := tickDeadline(intervalDur, s.maxTickCap)
	tickCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := reg.body(tickCtx, ing, bucketStart); err != nil {
		s.log.Error("ingester tick failed", "ingester", ing.Name, "bucket", bucketStart, "err", err)
		reg.progress.setDone(bucketStart, StatusFailed, err.Error())
		return
	}

	ing.SetLastIngested(bucketStart)
	s.commit(ctx, ing, bucketStart)
	reg.progress.setDone(bucketStart, StatusCompleted, "")
}

// commit writes the post-tick snapshot and publishes the delta. A registry
// write failure here is non-fatal to the tick itself: the body already
// succeeded locally, but downstream subscribers miss the delta, per the
// failure semantics in spec.md §4.1.
func (s *Scheduler) commit(ctx context.Context, ing *model.Ingester, bucketStart time.Time) {
	fields := make(map[string]any, len(ing.Fields))
	for _, f := range ing.Fields {
		fields[f.Name] = f.Value
	}
	bucketEnd := bucketStart
	if d, err := ing.Interval.Duration(); err == nil {
		bucketEnd = bucketStart.Add(d)
	}

	if err := s.reg.PutSnapshot(ctx, ing.Name, registry.Snapshot{Ingester: ing.Name, BucketEnd: bucketEnd, Fields: fields}); err != nil {
		s.log.Warn("failed to write snapshot", "ingester", ing.Name, "err", err)
	}
	if err := s.reg.Publish(ctx, ing.Name, registry.Delta{Ingester: ing.Name, BucketEnd: bucketEnd, Fields: fields}); err != nil {
		s.log.Warn("failed to publish delta", "ingester", ing.Name, "err", err)
	}
}

// RunNow triggers an ingester's tick immediately, bypassing the cron
// schedule but still going through claim coordination. Used by the
// administrative "run now" surface and by tests.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	reg, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown ingester %q", name)
	}
	s.fire(reg)
	return nil
}

// ListJobs returns introspection info for every registered ingester: the
// supplemented feature named in SPEC_FULL.md §11, grounded on the
// orchestrator's own ListJobs/JobInfo/JobProgress shape.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, reg := range s.jobs {
		info := JobInfo{
			Ingester: reg.ing.Name,
			Interval: reg.ing.Interval,
			Progress: reg.progress.snapshot(),
		}
		if reg.job != nil {
			if runs, err := reg.job.NextRun(); err == nil {
				info.NextRun = runs
			}
		}
		if expr, err := reg.ing.Interval.CronExpr(); err == nil {
			info.Schedule = expr
		}
		out = append(out, info)
	}
	return out
}
