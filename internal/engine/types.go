package engine

import (
	"context"
	"time"

	"adbot/internal/model"
	"adbot/internal/storage"
)

// Config controls the posting engine. Zero fields fall back to the
// documented defaults in New().
type Config struct {
	Enabled bool
	// TickInterval is the detector scan period (default 10s).
	TickInterval time.Duration
	// Workers is the posting worker pool size (default 3).
	Workers int
	// IdleDelay is how long a worker naps when the queue is empty
	// (default 1s).
	IdleDelay time.Duration
	// SponsorDelay separates a free-tier ad from its sponsor follow-up
	// (default 30s). The delay runs on the delivering worker so the
	// sponsor post can never land after an unrelated later ad.
	SponsorDelay time.Duration
	// SponsorLink is the sponsor landing URL; empty disables sponsor
	// posts entirely.
	SponsorLink string
}

// Posting is a due ad snapshot queued for delivery. The owner's tier is
// deliberately absent: entitlement is re-resolved at send time so
// upgrades and downgrades that happen while queued are honored.
type Posting struct {
	AdID      int64
	ChatID    int64
	OwnerID   int64
	Content   string
	MediaKind model.MediaKind
	MediaRef  string
}

// Store is the slice of the storage layer the engine needs.
type Store interface {
	ListDueCandidates(ctx context.Context) ([]storage.DueCandidate, error)
	MarkDelivery(ctx context.Context, rec model.DeliveryRecord) error
	DeactivateDestination(ctx context.Context, chatID int64) error
}

// Entitler answers whether an account may suppress sponsor posts.
type Entitler interface {
	Entitled(ctx context.Context, accountID int64) (bool, error)
}

// Clock abstracts time so the detector cadence and the sponsor delay
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
