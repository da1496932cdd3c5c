package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"adbot/internal/model"
	"adbot/internal/storage"
	"adbot/internal/transport"

	logx "adbot/pkg/logx"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func fastConfig() Config {
	return Config{
		Enabled:      true,
		TickInterval: 10 * time.Millisecond,
		Workers:      3,
		IdleDelay:    2 * time.Millisecond,
		SponsorDelay: time.Millisecond,
		SponsorLink:  "https://t.me/sponsor",
	}
}

// Five due ads on one destination, three workers, slow sends: the
// destination must still see its deliveries strictly one at a time.
func TestOneDeliveryPerDestination(t *testing.T) {
	t.Parallel()
	var cands []storage.DueCandidate
	for i := int64(1); i <= 5; i++ {
		cands = append(cands, candidate(i, 100, 7, time.Hour, nil))
	}
	store := &memStore{cands: cands}
	sender := newFakeSender()
	sender.delay = 5 * time.Millisecond

	s := New(fastConfig(), store, sender, &fakeGate{}, logx.Nop())
	s.Start(context.Background())
	defer stopService(t, s)

	// 5 ads + 5 sponsor posts.
	waitFor(t, 3*time.Second, func() bool { return sender.countSent() >= 10 })

	sender.mu.Lock()
	overlap := sender.maxOverlap[100]
	sender.mu.Unlock()
	if overlap != 1 {
		t.Fatalf("max concurrent deliveries to one destination = %d, want 1", overlap)
	}
	for i := int64(1); i <= 5; i++ {
		if got := store.recordOutcomes(i); len(got) != 1 {
			t.Fatalf("ad %d recorded %d times, want 1", i, len(got))
		}
	}
}

func TestRevokedDestinationDropsOut(t *testing.T) {
	t.Parallel()
	store := &memStore{cands: []storage.DueCandidate{
		candidate(1, 100, 7, time.Hour, nil),
		candidate(2, 200, 7, time.Hour, nil),
	}}
	sender := newFakeSender()
	sender.errByChat[100] = transport.ErrAccessRevoked

	s := New(fastConfig(), store, sender, &fakeGate{}, logx.Nop())
	s.Start(context.Background())
	defer stopService(t, s)

	waitFor(t, 3*time.Second, func() bool {
		store.mu.Lock()
		deact := len(store.deactivated) == 1
		recorded := false
		for _, r := range store.records {
			if r.ChatID == 100 {
				recorded = true
			}
		}
		store.mu.Unlock()
		return deact && recorded && len(sender.sentTo(200)) >= 1
	})

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.deactivated[0] != 100 {
		t.Fatalf("deactivated = %v, want [100]", store.deactivated)
	}
	// The revoked destination is gone from the candidate set, so exactly
	// one failure is ever recorded for its ad.
	failures := 0
	for _, r := range store.records {
		if r.ChatID == 100 {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("recorded %d deliveries for revoked destination, want 1", failures)
	}
}

// panicOnceSender blows up on the first send and behaves afterwards.
type panicOnceSender struct {
	*fakeSender
	mu       sync.Mutex
	panicked bool
}

func (p *panicOnceSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	p.mu.Lock()
	first := !p.panicked
	p.panicked = true
	p.mu.Unlock()
	if first {
		panic("send exploded")
	}
	return p.fakeSender.SendText(ctx, to, text, opt)
}

// A panic during one delivery must not wedge the destination: the
// in-flight mark and the dedupe entry are released, the worker stays
// alive, and the next scan retries the ad.
func TestPanickingDeliveryReleasesDestination(t *testing.T) {
	t.Parallel()
	store := &memStore{cands: []storage.DueCandidate{
		candidate(1, 100, 7, time.Hour, nil),
	}}
	sender := &panicOnceSender{fakeSender: newFakeSender()}

	s := New(fastConfig(), store, sender, &fakeGate{entitled: map[int64]bool{7: true}}, logx.Nop())
	s.Start(context.Background())
	defer stopService(t, s)

	waitFor(t, 3*time.Second, func() bool {
		return len(sender.sentTo(100)) >= 1
	})

	waitFor(t, 3*time.Second, func() bool {
		for _, o := range store.recordOutcomes(1) {
			if o == model.DeliverySuccess {
				return true
			}
		}
		return false
	})
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), &memStore{}, newFakeSender(), &fakeGate{}, logx.Nop())

	s.Start(context.Background())
	s.Start(context.Background()) // no-op

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx) // no-op

	if s.Pending() != 0 {
		t.Fatalf("Pending after stop = %d", s.Pending())
	}
}

func stopService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}
