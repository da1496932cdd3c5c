package storage

import (
	"context"
	"time"

	"adbot/internal/model"

	logx "adbot/pkg/logx"
)

// Store is the durable record of accounts, destinations, ads and the
// delivery log. All mutations are single-row and idempotent on retry,
// so callers may safely re-apply them after read-then-write races.
type Store interface {
	// Accounts.
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	// UpsertAccount creates the account on first interaction or
	// refreshes its display fields; the tier is preserved.
	UpsertAccount(ctx context.Context, id int64, username, firstName string) error
	SetAccountTier(ctx context.Context, id int64, tier model.Tier, until *time.Time) error
	// ListExpiredPremium returns premium accounts whose expiry has passed.
	ListExpiredPremium(ctx context.Context, now time.Time) ([]int64, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
	ListRecentAccounts(ctx context.Context, limit int) ([]model.Account, error)

	// Destinations.
	UpsertDestination(ctx context.Context, d model.Destination) error
	GetDestination(ctx context.Context, chatID int64) (*model.Destination, error)
	ListOwnerDestinations(ctx context.Context, ownerID int64) ([]model.Destination, error)
	ListActiveDestinations(ctx context.Context) ([]model.Destination, error)
	// DeactivateDestination soft-deletes the destination and cascades
	// to its ads. Applying it twice is a no-op.
	DeactivateDestination(ctx context.Context, chatID int64) error
	SetWelcome(ctx context.Context, chatID int64, enabled bool, text, mediaRef string, mediaKind model.MediaKind) error

	// Ads.
	AddAd(ctx context.Context, ad model.Ad) (int64, error)
	GetAd(ctx context.Context, id int64) (*model.Ad, error)
	ListDestinationAds(ctx context.Context, chatID int64) ([]model.Ad, error)
	DeactivateAd(ctx context.Context, id int64) error

	// Delivery log.
	MarkDelivery(ctx context.Context, rec model.DeliveryRecord) error
	// ListDueCandidates returns every active ad of an active destination
	// with the timestamp of its last successful delivery.
	ListDueCandidates(ctx context.Context) ([]DueCandidate, error)

	GetStats(ctx context.Context) (Stats, error)

	Close() error
}

// Open initializes the SQLite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
