package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"adbot/internal/model"
	"adbot/internal/storage"
	"adbot/internal/transport"
)

// fakeClock pins Now and makes After fire immediately, so sponsor
// delays collapse in tests that drive deliver directly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type memStore struct {
	mu          sync.Mutex
	cands       []storage.DueCandidate
	records     []model.DeliveryRecord
	deactivated []int64
	listErr     error
}

func (m *memStore) ListDueCandidates(ctx context.Context) ([]storage.DueCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]storage.DueCandidate, len(m.cands))
	copy(out, m.cands)
	return out, nil
}

func (m *memStore) MarkDelivery(ctx context.Context, rec model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if rec.Outcome == model.DeliverySuccess {
		for i := range m.cands {
			if m.cands[i].Ad.ID == rec.AdID {
				t := rec.PostedAt
				m.cands[i].LastSuccess = &t
			}
		}
	}
	return nil
}

func (m *memStore) DeactivateDestination(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, chatID)
	kept := m.cands[:0]
	for _, c := range m.cands {
		if c.Ad.ChatID != chatID {
			kept = append(kept, c)
		}
	}
	m.cands = kept
	return nil
}

func (m *memStore) recordOutcomes(adID int64) []model.DeliveryOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeliveryOutcome
	for _, r := range m.records {
		if r.AdID == adID {
			out = append(out, r.Outcome)
		}
	}
	return out
}

type sentMsg struct {
	ChatID  int64
	Text    string
	Media   transport.Media
	IsMedia bool
}

// fakeSender records sends and tracks per-chat send overlap so tests
// can assert the one-delivery-per-destination guarantee.
type fakeSender struct {
	mu         sync.Mutex
	sent       []sentMsg
	errByChat  map[int64]error
	delay      time.Duration
	inFlight   map[int64]int
	maxOverlap map[int64]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		errByChat:  map[int64]error{},
		inFlight:   map[int64]int{},
		maxOverlap: map[int64]int{},
	}
}

func (f *fakeSender) begin(chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errByChat[chatID]; err != nil {
		return err
	}
	f.inFlight[chatID]++
	if f.inFlight[chatID] > f.maxOverlap[chatID] {
		f.maxOverlap[chatID] = f.inFlight[chatID]
	}
	return nil
}

func (f *fakeSender) end(chatID int64, msg sentMsg) {
	f.mu.Lock()
	f.inFlight[chatID]--
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := f.begin(to.ChatID); err != nil {
		return transport.MessageRef{}, err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.end(to.ChatID, sentMsg{ChatID: to.ChatID, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to transport.ChatTarget, media transport.Media, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := f.begin(to.ChatID); err != nil {
		return transport.MessageRef{}, err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.end(to.ChatID, sentMsg{ChatID: to.ChatID, Text: caption, Media: media, IsMedia: true})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) sentTo(chatID int64) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) countSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeGate struct {
	mu       sync.Mutex
	entitled map[int64]bool
	err      error
	checks   int
}

func (g *fakeGate) Entitled(ctx context.Context, accountID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.err != nil {
		return false, g.err
	}
	return g.entitled[accountID], nil
}

func isSponsor(m sentMsg) bool {
	return !m.IsMedia && strings.Contains(m.Text, "premium")
}
