package engine

import (
	"context"
	"runtime/debug"

	logx "adbot/pkg/logx"
)

// worker drains the dispatch queue until stopped. The queue is polled
// rather than signalled: with a handful of destinations and a seconds
// cadence, a short idle nap is simpler than a wakeup channel and cannot
// miss work.
func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue *dispatchQueue, idx int) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		p, ok := queue.Dequeue()
		if !ok {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-s.clock.After(s.cfg.IdleDelay):
			}
			continue
		}

		s.log.Debug("delivering", logx.Int("worker", idx),
			logx.Int64("ad", p.AdID), logx.Int64("chat", p.ChatID))
		s.runDelivery(ctx, queue, p, idx)
	}
}

// runDelivery guards a single delivery. Release must run even when the
// delivery panics: a leaked in-flight mark would block the destination
// and a leaked dedupe entry would block the ad until restart. The
// recover keeps the worker alive; the next due scan retries the ad.
func (s *Service) runDelivery(ctx context.Context, queue *dispatchQueue, p Posting, idx int) {
	defer queue.Release(p)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in delivery",
				logx.Int("worker", idx), logx.Int64("ad", p.AdID), logx.Int64("chat", p.ChatID),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.deliver(ctx, p)
}
