package tier

import (
	"context"
	"testing"
	"time"

	"adbot/internal/model"
	"adbot/internal/storage"

	logx "adbot/pkg/logx"
)

type memAccounts struct {
	accounts map[int64]*model.Account
	tierSets int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: map[int64]*model.Account{}}
}

func (m *memAccounts) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) SetAccountTier(ctx context.Context, id int64, tier model.Tier, until *time.Time) error {
	m.tierSets++
	if a, ok := m.accounts[id]; ok {
		a.Tier = tier
		a.PremiumUntil = until
	}
	return nil
}

func newTestGate(store AccountStore, now time.Time) *Gate {
	g := NewGate(store, logx.Nop())
	g.now = func() time.Time { return now }
	return g
}

func TestEntitled(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Minute)

	tests := []struct {
		name    string
		account *model.Account
		want    bool
	}{
		{name: "unknown account", account: nil, want: false},
		{name: "free", account: &model.Account{ID: 1, Tier: model.TierFree}, want: false},
		{name: "premium indefinite", account: &model.Account{ID: 1, Tier: model.TierPremium}, want: true},
		{name: "premium valid", account: &model.Account{ID: 1, Tier: model.TierPremium, PremiumUntil: &future}, want: true},
		{name: "premium expired", account: &model.Account{ID: 1, Tier: model.TierPremium, PremiumUntil: &past}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemAccounts()
			if tt.account != nil {
				store.accounts[tt.account.ID] = tt.account
			}
			got, err := newTestGate(store, now).Entitled(context.Background(), 1)
			if err != nil {
				t.Fatalf("Entitled: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Entitled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntitledLazyDowngrade(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	store := newMemAccounts()
	store.accounts[7] = &model.Account{ID: 7, Tier: model.TierPremium, PremiumUntil: &past}
	gate := newTestGate(store, now)

	ok, err := gate.Entitled(context.Background(), 7)
	if err != nil || ok {
		t.Fatalf("expected not entitled, got ok=%v err=%v", ok, err)
	}
	if store.tierSets != 1 {
		t.Fatalf("expected one downgrade write, got %d", store.tierSets)
	}
	a, _ := store.GetAccount(context.Background(), 7)
	if a.Tier != model.TierFree || a.PremiumUntil != nil {
		t.Fatalf("account not downgraded: %+v", a)
	}

	// A second check must not write again.
	if _, err := gate.Entitled(context.Background(), 7); err != nil {
		t.Fatalf("Entitled: %v", err)
	}
	if store.tierSets != 1 {
		t.Fatalf("downgrade must be a one-time write, got %d", store.tierSets)
	}
}
