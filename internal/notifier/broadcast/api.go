package broadcast

import (
	"fmt"
	"sort"
	"time"

	logx "adbot/pkg/logx"
)

// Announce queues one announcement to the given user IDs and returns
// its job id for Status polling. The job is marked fully failed when
// the queue is saturated or the pool is not running.
func (s *Service) Announce(targets []int64, text string) string {
	now := time.Now()
	id := fmt.Sprintf("bc:%d", now.UnixNano())
	s.pruneStatus(now)

	st := &JobStatus{ID: id, Total: len(targets), CreatedAt: now}
	s.statusMu.Lock()
	s.status[id] = st
	s.statusMu.Unlock()

	s.mu.Lock()
	q := s.queue
	running := s.stopCh != nil
	s.mu.Unlock()

	if running {
		select {
		case q <- job{id: id, targets: targets, text: text}:
			s.log.Debug("announcement enqueued", logx.String("job", id), logx.Int("total", len(targets)))
			return id
		default:
			s.log.Warn("announcement queue full; dropping job", logx.String("job", id))
		}
	} else {
		s.log.Warn("broadcast not running; dropping announcement", logx.String("job", id))
	}

	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = time.Now()
		st.Failed = st.Total
	}
	s.statusMu.Unlock()
	return id
}

func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

// pruneStatus drops finished entries past the TTL and, if the map is
// still over statusMax, the oldest finished ones.
func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			continue
		}
		if !st.Running && !st.DoneAt.IsZero() && now.Sub(st.DoneAt) > s.statusTTL {
			delete(s.status, id)
		}
	}
	if len(s.status) <= s.statusMax {
		return
	}
	type aged struct {
		id string
		at time.Time
	}
	var finished []aged
	for id, st := range s.status {
		if !st.Running {
			finished = append(finished, aged{id: id, at: st.CreatedAt})
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].at.Before(finished[j].at) })
	for _, f := range finished {
		if len(s.status) <= s.statusMax {
			break
		}
		delete(s.status, f.id)
	}
}
