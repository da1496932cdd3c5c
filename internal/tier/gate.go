// Package tier answers whether an account is currently entitled to
// suppress sponsor posts. It is the single source of truth for
// entitlement; no other component may decide from a cached tier.
package tier

import (
	"context"
	"errors"
	"time"

	"adbot/internal/model"
	"adbot/internal/storage"

	logx "adbot/pkg/logx"
)

// AccountStore is the slice of the storage layer the gate needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	SetAccountTier(ctx context.Context, id int64, tier model.Tier, until *time.Time) error
}

type Gate struct {
	store AccountStore
	log   logx.Logger
	now   func() time.Time
}

func NewGate(store AccountStore, log logx.Logger) *Gate {
	return &Gate{store: store, log: log, now: time.Now}
}

// Entitled reports whether the account may suppress sponsor posts.
//
// An expired premium account is downgraded here, as an explicit
// read-check-write. The write is idempotent ("set free, clear expiry"),
// so two concurrent checks racing on the same expiry are harmless.
func (g *Gate) Entitled(ctx context.Context, accountID int64) (bool, error) {
	a, err := g.store.GetAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.Tier != model.TierPremium {
		return false, nil
	}
	if a.PremiumUntil != nil && a.PremiumUntil.Before(g.now()) {
		if err := g.store.SetAccountTier(ctx, accountID, model.TierFree, nil); err != nil {
			// The account is expired either way; report not entitled
			// and let the next check retry the downgrade write.
			g.log.Warn("premium downgrade write failed", logx.Int64("account", accountID), logx.Err(err))
			return false, nil
		}
		g.log.Info("premium expired; account downgraded", logx.Int64("account", accountID))
		return false, nil
	}
	return true, nil
}
