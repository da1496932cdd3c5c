package storage

import (
	"errors"
	"time"

	"adbot/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Config struct {
	// Path of the SQLite database file.
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// DueCandidate is one active ad of an active destination together with
// the data the detector needs to decide whether it is due.
type DueCandidate struct {
	Ad          model.Ad
	OwnerID     int64
	LastSuccess *time.Time // nil when the ad has never been posted successfully
}

// Stats is a coarse snapshot for the admin /stats command.
type Stats struct {
	TotalAccounts      int
	PremiumAccounts    int
	ActiveDestinations int
	ActiveAds          int
	PostsToday         int
}
