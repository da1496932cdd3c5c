package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"adbot/internal/model"

	logx "adbot/pkg/logx"
)

type memMaintStore struct {
	mu      sync.Mutex
	expired []int64
	tiers   map[int64]model.Tier
	dests   []model.Destination
	ads     map[int64][]model.Ad
}

func (m *memMaintStore) ListExpiredPremium(ctx context.Context, now time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.expired...), nil
}

func (m *memMaintStore) SetAccountTier(ctx context.Context, id int64, tier model.Tier, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tiers == nil {
		m.tiers = map[int64]model.Tier{}
	}
	m.tiers[id] = tier
	return nil
}

func (m *memMaintStore) ListActiveDestinations(ctx context.Context) ([]model.Destination, error) {
	return append([]model.Destination(nil), m.dests...), nil
}

func (m *memMaintStore) ListDestinationAds(ctx context.Context, chatID int64) ([]model.Ad, error) {
	return append([]model.Ad(nil), m.ads[chatID]...), nil
}

func TestPremiumSweepDowngradesAll(t *testing.T) {
	t.Parallel()
	store := &memMaintStore{expired: []int64{10, 20}}
	s := New(Config{}, store, logx.Nop())

	s.PremiumSweep(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, id := range []int64{10, 20} {
		if store.tiers[id] != model.TierFree {
			t.Fatalf("account %d not downgraded: %q", id, store.tiers[id])
		}
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{PremiumSweepSpec: "not a cron spec"}, &memMaintStore{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &memMaintStore{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
