package engine

import (
	"context"
	"time"

	"adbot/internal/storage"

	logx "adbot/pkg/logx"
)

// detectorLoop scans for due ads every TickInterval until stopped. The
// first scan runs immediately so a restart does not delay overdue ads
// by a full tick.
func (s *Service) detectorLoop(ctx context.Context, stopCh <-chan struct{}, queue *dispatchQueue) {
	if !s.cfg.Enabled {
		s.log.Info("posting disabled; detector idle")
		<-stopCh
		return
	}

	s.scanOnce(ctx, queue)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.TickInterval):
			s.scanOnce(ctx, queue)
		}
	}
}

// scanOnce loads the active candidates and enqueues the due ones. A
// candidate is due when it has never been posted successfully, or when
// its interval has elapsed since the last successful post. Failures do
// not advance the schedule.
func (s *Service) scanOnce(ctx context.Context, queue *dispatchQueue) {
	cands, err := s.store.ListDueCandidates(ctx)
	if err != nil {
		s.log.Error("due scan failed", logx.Err(err))
		return
	}
	now := s.clock.Now()
	queued := 0
	for _, c := range cands {
		if !due(c, now) {
			continue
		}
		p := Posting{
			AdID:      c.Ad.ID,
			ChatID:    c.Ad.ChatID,
			OwnerID:   c.OwnerID,
			Content:   c.Ad.Content,
			MediaKind: c.Ad.MediaKind,
			MediaRef:  c.Ad.MediaRef,
		}
		if queue.Enqueue(p) {
			queued++
		}
	}
	if queued > 0 {
		s.log.Debug("due scan", logx.Int("candidates", len(cands)), logx.Int("queued", queued))
	}
}

func due(c storage.DueCandidate, now time.Time) bool {
	if c.LastSuccess == nil {
		return true
	}
	return !now.Before(c.LastSuccess.Add(c.Ad.Interval))
}
