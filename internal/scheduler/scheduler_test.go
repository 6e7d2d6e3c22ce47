package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fluxgate/internal/model"
	"fluxgate/internal/registry"
	"fluxgate/internal/registry/memregistry"
)

func testIngester(t *testing.T, interval model.Interval) *model.Ingester {
	t.Helper()
	ing, err := model.NewIngester("price_feed", model.ResourceValue, model.IngesterProcessor, interval, []model.Field{
		{Name: "price", Type: model.TypeFloat64},
	})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}
	return ing
}

func TestRunNowExecutesBodyOnClaimSuccess(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := memregistry.New(func() time.Time { return clock })
	s, err := New(reg, "instance-a", WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ing := testIngester(t, model.Interval("m1"))

	var calls int32
	body := func(ctx context.Context, ing *model.Ingester, bucketStart time.Time) error {
		atomic.AddInt32(&calls, 1)
		ing.Field("price").Value = 42.0
		return nil
	}
	if err := s.AddIngester(ing, body); err != nil {
		t.Fatalf("AddIngester: %v", err)
	}
	if err := s.RunNow("price_feed"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("body called %d times, want 1", calls)
	}
	if ing.Field("price").Value != 42.0 {
		t.Fatalf("price = %v, want 42", ing.Field("price").Value)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Progress.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed", jobs[0].Progress.Status)
	}
}

func TestRunNowSkipsWhenClaimAlreadyHeld(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := memregistry.New(func() time.Time { return clock })
	s, err := New(reg, "instance-a", WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ing := testIngester(t, model.Interval("m1"))

	var calls int32
	body := func(ctx context.Context, ing *model.Ingester, bucketStart time.Time) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	if err := s.AddIngester(ing, body); err != nil {
		t.Fatalf("AddIngester: %v", err)
	}

	bucketStart, _ := ing.Interval.BucketStart(clock)
	intervalDur, _ := ing.Interval.Duration()
	claimed, err := reg.Claim(context.Background(), registry.ClaimKey(ing.ID(), bucketStart), "instance-b", intervalDur*2)
	if err != nil || !claimed {
		t.Fatalf("pre-claim failed: claimed=%v err=%v", claimed, err)
	}

	if err := s.RunNow("price_feed"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if calls != 0 {
		t.Fatalf("body called %d times, want 0 (claim owned elsewhere)", calls)
	}
	jobs := s.ListJobs()
	if jobs[0].Progress.Status != StatusSkipped {
		t.Fatalf("status = %v, want skipped", jobs[0].Progress.Status)
	}
}

func TestRunNowMarksFailedOnBodyError(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := memregistry.New(func() time.Time { return clock })
	s, err := New(reg, "instance-a", WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ing := testIngester(t, model.Interval("m1"))

	body := func(ctx context.Context, ing *model.Ingester, bucketStart time.Time) error {
		return errors.New("upstream fetch failed")
	}
	if err := s.AddIngester(ing, body); err != nil {
		t.Fatalf("AddIngester: %v", err)
	}
	if err := s.RunNow("price_feed"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	jobs := s.ListJobs()
	if jobs[0].Progress.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", jobs[0].Progress.Status)
	}
	if jobs[0].Progress.LastError == "" {
		t.Fatal("expected LastError to be set")
	}
}

func TestRunNowCommitsSnapshotAndDelta(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := memregistry.New(func() time.Time { return clock })
	s, err := New(reg, "instance-a", WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ing := testIngester(t, model.Interval("m1"))
	body := func(ctx context.Context, ing *model.Ingester, bucketStart time.Time) error {
		ing.Field("price").Value = 99.5
		return nil
	}
	if err := s.AddIngester(ing, body); err != nil {
		t.Fatalf("AddIngester: %v", err)
	}
	if err := s.RunNow("price_feed"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	snap, ok, err := reg.GetSnapshot(context.Background(), "price_feed")
	if err != nil || !ok {
		t.Fatalf("GetSnapshot: ok=%v err=%v", ok, err)
	}
	if snap.Fields["price"] != 99.5 {
		t.Fatalf("snapshot price = %v, want 99.5", snap.Fields["price"])
	}
	if !ing.LastIngested().Equal(mustBucketStart(t, ing, clock)) {
		t.Fatalf("LastIngested = %v", ing.LastIngested())
	}
}

func TestTickDeadlineCapsAtMaxDuration(t *testing.T) {
	d := tickDeadline(time.Hour, 30*time.Second)
	if d != 30*time.Second {
		t.Fatalf("tickDeadline = %v, want 30s", d)
	}
	d = tickDeadline(10*time.Second, time.Minute)
	if d != 9*time.Second {
		t.Fatalf("tickDeadline = %v, want 9s (epsilon subtracted)", d)
	}
}

func mustBucketStart(t *testing.T, ing *model.Ingester, at time.Time) time.Time {
	t.Helper()
	bs, err := ing.Interval.BucketStart(at)
	if err != nil {
		t.Fatalf("BucketStart: %v", err)
	}
	return bs
}
