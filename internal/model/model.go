// Package model holds the persistent domain types shared by storage,
// engine and the bot layer.
package model

import "time"

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Account is a bot user. Accounts are created on first interaction and
// never deleted. An expired premium account is coerced back to free
// lazily, on the next entitlement check (see internal/tier).
type Account struct {
	ID           int64
	Username     string
	FirstName    string
	Tier         Tier
	PremiumUntil *time.Time // nil means indefinite (or free tier)
	JoinedAt     time.Time
}

type DestinationKind string

const (
	KindGroup   DestinationKind = "group"
	KindChannel DestinationKind = "channel"
)

// Destination is a linked group or channel that ads are posted into.
// Destinations are soft-deactivated, never removed; deactivation
// cascades to the destination's ads.
type Destination struct {
	ChatID  int64
	Kind    DestinationKind
	Title   string
	OwnerID int64
	Active  bool

	WelcomeEnabled   bool
	WelcomeText      string
	WelcomeMediaRef  string
	WelcomeMediaKind MediaKind

	AddedAt time.Time
}

type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MinAdInterval is the floor enforced on ad posting intervals.
const MinAdInterval = 5 * time.Minute

// Ad is a user-authored advertisement with a posting cadence.
// Ads are soft-deleted so the delivery log stays auditable.
type Ad struct {
	ID        int64
	ChatID    int64
	Content   string
	MediaKind MediaKind
	MediaRef  string
	Interval  time.Duration
	Active    bool
	CreatedAt time.Time
}

type DeliveryOutcome string

const (
	DeliverySuccess DeliveryOutcome = "success"
	DeliveryFailure DeliveryOutcome = "failure"
)

// DeliveryRecord is one row of the append-only posting log. The engine
// only ever reads it back as "time of last successful post per ad".
type DeliveryRecord struct {
	ChatID   int64
	AdID     int64
	PostedAt time.Time
	Outcome  DeliveryOutcome
	Reason   string
}
