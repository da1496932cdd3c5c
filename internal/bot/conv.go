package bot

import (
	"sync"
	"time"

	"adbot/internal/model"
)

type convState int

const (
	convNone convState = iota
	convAdContent
	convAdMedia
	convAdInterval
	convWelcomeText
	convWelcomeMedia
	convBroadcastText
)

// conv is one user's in-progress multi-step flow. Flows run in private
// chat only, so the user id is a sufficient key.
type conv struct {
	state  convState
	chatID int64 // destination the flow operates on

	draftContent   string
	draftMediaKind model.MediaKind
	draftMediaRef  string

	startedAt time.Time
}

const convTTL = 15 * time.Minute

type convTable struct {
	mu sync.Mutex
	m  map[int64]*conv
}

func newConvTable() *convTable {
	return &convTable{m: map[int64]*conv{}}
}

func (t *convTable) begin(userID int64, c *conv) {
	c.startedAt = time.Now()
	t.mu.Lock()
	t.m[userID] = c
	t.mu.Unlock()
}

// get returns the user's live conversation, expiring stale ones so an
// abandoned flow cannot swallow unrelated messages days later.
func (t *convTable) get(userID int64) *conv {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.m[userID]
	if !ok {
		return nil
	}
	if time.Since(c.startedAt) > convTTL {
		delete(t.m, userID)
		return nil
	}
	return c
}

func (t *convTable) clear(userID int64) {
	t.mu.Lock()
	delete(t.m, userID)
	t.mu.Unlock()
}
