package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"adbot/internal/model"
	"adbot/internal/storage"

	logx "adbot/pkg/logx"
)

func candidate(adID, chatID, ownerID int64, interval time.Duration, last *time.Time) storage.DueCandidate {
	return storage.DueCandidate{
		Ad: model.Ad{
			ID:       adID,
			ChatID:   chatID,
			Content:  "ad",
			Interval: interval,
			Active:   true,
		},
		OwnerID:     ownerID,
		LastSuccess: last,
	}
}

func TestDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{name: "never posted", last: nil, want: true},
		{name: "interval elapsed", last: at(-time.Hour), want: true},
		{name: "exactly at boundary", last: at(-10 * time.Minute), want: true},
		{name: "not yet", last: at(-time.Minute), want: false},
		{name: "just posted", last: at(0), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := candidate(1, 100, 1, 10*time.Minute, tt.last)
			if got := due(c, now); got != tt.want {
				t.Fatalf("due = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestService(store *memStore, sender *fakeSender, gate *fakeGate, clock Clock) *Service {
	s := New(Config{
		Enabled:     true,
		SponsorLink: "https://t.me/sponsor",
	}, store, sender, gate, logx.Nop())
	s.clock = clock
	return s
}

func TestScanOnceQueuesOnlyDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Minute)
	stale := now.Add(-time.Hour)

	store := &memStore{cands: []storage.DueCandidate{
		candidate(1, 100, 1, 10*time.Minute, nil),     // never posted: due
		candidate(2, 200, 1, 10*time.Minute, &stale),  // overdue: due
		candidate(3, 300, 1, 10*time.Minute, &recent), // fresh: not due
	}}
	s := newTestService(store, newFakeSender(), &fakeGate{}, newFakeClock(now))
	q := newDispatchQueue()

	s.scanOnce(context.Background(), q)
	if q.Len() != 2 {
		t.Fatalf("queued %d postings, want 2", q.Len())
	}
	got := map[int64]bool{}
	for i := 0; i < 2; i++ {
		p, ok := q.Dequeue()
		if !ok {
			t.Fatal("expected posting")
		}
		got[p.AdID] = true
	}
	if !got[1] || !got[2] || got[3] {
		t.Fatalf("queued ads = %v, want {1,2}", got)
	}
}

func TestScanOnceDoesNotDoubleQueue(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{cands: []storage.DueCandidate{
		candidate(1, 100, 1, 10*time.Minute, nil),
	}}
	s := newTestService(store, newFakeSender(), &fakeGate{}, newFakeClock(now))
	q := newDispatchQueue()

	// Two ticks pass while the delivery has not happened yet.
	s.scanOnce(context.Background(), q)
	s.scanOnce(context.Background(), q)
	if q.Len() != 1 {
		t.Fatalf("queued %d postings, want 1", q.Len())
	}
}

func TestScanOnceStoreError(t *testing.T) {
	t.Parallel()
	store := &memStore{listErr: errors.New("db locked")}
	s := newTestService(store, newFakeSender(), &fakeGate{}, newFakeClock(time.Now()))
	q := newDispatchQueue()

	s.scanOnce(context.Background(), q)
	if q.Len() != 0 {
		t.Fatalf("queued %d postings after scan error, want 0", q.Len())
	}
}

func TestScheduleAdvancesOnlyOnSuccess(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	store := &memStore{cands: []storage.DueCandidate{
		candidate(1, 100, 1, 10*time.Minute, nil),
	}}
	sender := newFakeSender()
	s := newTestService(store, sender, &fakeGate{entitled: map[int64]bool{1: true}}, clock)
	q := newDispatchQueue()

	s.scanOnce(context.Background(), q)
	p, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected posting")
	}
	s.deliver(context.Background(), p)
	q.Release(p)

	// Just delivered: not due again until the interval elapses.
	s.scanOnce(context.Background(), q)
	if q.Len() != 0 {
		t.Fatalf("re-queued immediately after success, Len = %d", q.Len())
	}

	clock.Advance(10 * time.Minute)
	s.scanOnce(context.Background(), q)
	if q.Len() != 1 {
		t.Fatalf("not re-queued after interval, Len = %d", q.Len())
	}
}
