package broadcast

import (
	"context"
	"errors"
	"time"

	"adbot/internal/transport"

	logx "adbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.setRunning(j.id)

	s.log.Info("announcement started", logx.String("job", j.id), logx.Int("total", len(j.targets)))
	for _, userID := range j.targets {
		if err := s.sendOne(ctx, j.id, userID, j.text); err != nil {
			s.markFail(j.id)
		}
		s.markDone(j.id)
	}
	s.finish(j.id)

	if st, ok := s.Status(j.id); ok {
		fields := []logx.Field{
			logx.String("job", j.id),
			logx.Int("total", st.Total),
			logx.Int("failed", st.Failed),
			logx.Duration("dur", time.Since(start)),
		}
		if st.Failed > 0 {
			s.log.Warn("announcement finished with failures", fields...)
		} else {
			s.log.Info("announcement finished", fields...)
		}
	}
}

func (s *Service) sendOne(ctx context.Context, jobID string, userID int64, text string) error {
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}

	to := transport.ChatTarget{ChatID: userID}
	var last error
	for i := 0; i <= retry; i++ {
		_, err := s.sender.SendText(ctx, to, text, nil)
		if err == nil {
			return nil
		}
		last = err
		// A user who blocked the bot stays blocked; retrying is noise.
		if errors.Is(err, transport.ErrAccessRevoked) {
			break
		}
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Debug("announcement send failed",
		logx.String("job", jobID), logx.Int64("user", userID), logx.Err(last))
	return last
}

func (s *Service) setRunning(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.StartedAt = time.Now()
		st.Running = true
	}
}

func (s *Service) markDone(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Done++
	}
}

func (s *Service) markFail(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Failed++
	}
}

func (s *Service) finish(id string) {
	now := time.Now()
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = now
		st.Running = false
	}
	s.statusMu.Unlock()
	s.pruneStatus(now)
}
