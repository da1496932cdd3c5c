package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"adbot/internal/model"
	"adbot/internal/transport"

	logx "adbot/pkg/logx"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func textPosting() Posting {
	return Posting{AdID: 1, ChatID: 100, OwnerID: 7, Content: "buy things"}
}

func TestDeliverFreeOwnerGetsSponsor(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	gate := &fakeGate{entitled: map[int64]bool{}}
	s := newTestService(store, sender, gate, newFakeClock(testNow))

	s.deliver(context.Background(), textPosting())

	sent := sender.sentTo(100)
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want ad + sponsor", len(sent))
	}
	if sent[0].Text != "buy things" {
		t.Fatalf("first message = %q, want the ad", sent[0].Text)
	}
	if !isSponsor(sent[1]) {
		t.Fatalf("second message = %q, want the sponsor post", sent[1].Text)
	}
	if !strings.Contains(sent[1].Text, "https://t.me/sponsor") {
		t.Fatalf("sponsor post missing link: %q", sent[1].Text)
	}
	if got := store.recordOutcomes(1); len(got) != 1 || got[0] != model.DeliverySuccess {
		t.Fatalf("outcomes = %v, want one success", got)
	}
}

func TestDeliverPremiumOwnerNoSponsor(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	gate := &fakeGate{entitled: map[int64]bool{7: true}}
	s := newTestService(store, sender, gate, newFakeClock(testNow))

	s.deliver(context.Background(), textPosting())

	if sent := sender.sentTo(100); len(sent) != 1 {
		t.Fatalf("sent %d messages, want ad only", len(sent))
	}
	if gate.checks != 1 {
		t.Fatalf("entitlement checked %d times, want 1", gate.checks)
	}
}

func TestDeliverEntitlementResolvedAtSendTime(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	gate := &fakeGate{entitled: map[int64]bool{}}
	s := newTestService(store, sender, gate, newFakeClock(testNow))

	p := textPosting()
	// Owner upgrades after the posting was queued.
	gate.mu.Lock()
	gate.entitled[p.OwnerID] = true
	gate.mu.Unlock()

	s.deliver(context.Background(), p)
	if sent := sender.sentTo(100); len(sent) != 1 {
		t.Fatalf("sent %d messages, want ad only after upgrade", len(sent))
	}
}

func TestDeliverGateErrorSkipsSponsor(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	gate := &fakeGate{err: errors.New("db locked")}
	s := newTestService(store, sender, gate, newFakeClock(testNow))

	s.deliver(context.Background(), textPosting())

	if sent := sender.sentTo(100); len(sent) != 1 {
		t.Fatalf("sent %d messages, want ad only on gate error", len(sent))
	}
	if got := store.recordOutcomes(1); len(got) != 1 || got[0] != model.DeliverySuccess {
		t.Fatalf("outcomes = %v, want one success", got)
	}
}

func TestDeliverMediaAd(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	s := newTestService(store, sender, &fakeGate{entitled: map[int64]bool{7: true}}, newFakeClock(testNow))

	p := textPosting()
	p.MediaKind = model.MediaPhoto
	p.MediaRef = "file-abc"
	s.deliver(context.Background(), p)

	sent := sender.sentTo(100)
	if len(sent) != 1 || !sent[0].IsMedia {
		t.Fatalf("sent = %+v, want one media message", sent)
	}
	if sent[0].Media.Kind != transport.MediaPhoto || sent[0].Media.Ref != "file-abc" {
		t.Fatalf("media = %+v", sent[0].Media)
	}
	if sent[0].Text != "buy things" {
		t.Fatalf("caption = %q", sent[0].Text)
	}
}

func TestDeliverAccessRevokedDeactivates(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	sender.errByChat[100] = transport.ErrAccessRevoked
	s := newTestService(store, sender, &fakeGate{}, newFakeClock(testNow))

	s.deliver(context.Background(), textPosting())

	if len(store.deactivated) != 1 || store.deactivated[0] != 100 {
		t.Fatalf("deactivated = %v, want [100]", store.deactivated)
	}
	if got := store.recordOutcomes(1); len(got) != 1 || got[0] != model.DeliveryFailure {
		t.Fatalf("outcomes = %v, want one failure", got)
	}
	if sent := sender.sentTo(100); len(sent) != 0 {
		t.Fatalf("sent %d messages to revoked destination", len(sent))
	}
}

func TestDeliverTransientFailure(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	sender.errByChat[100] = errors.New("telegram: 502")
	s := newTestService(store, sender, &fakeGate{}, newFakeClock(testNow))

	s.deliver(context.Background(), textPosting())

	if len(store.deactivated) != 0 {
		t.Fatalf("transient failure must not deactivate, got %v", store.deactivated)
	}
	got := store.recordOutcomes(1)
	if len(got) != 1 || got[0] != model.DeliveryFailure {
		t.Fatalf("outcomes = %v, want one failure", got)
	}
}

func TestDeliverNoSponsorWithoutLink(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := newFakeSender()
	gate := &fakeGate{}
	s := New(Config{Enabled: true}, store, sender, gate, logx.Nop())
	s.clock = newFakeClock(testNow)

	s.deliver(context.Background(), textPosting())

	if sent := sender.sentTo(100); len(sent) != 1 {
		t.Fatalf("sent %d messages, want ad only when sponsor link unset", len(sent))
	}
	if gate.checks != 0 {
		t.Fatalf("entitlement checked with sponsor disabled")
	}
}
