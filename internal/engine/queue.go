package engine

import "sync"

// dispatchQueue buffers due postings per destination.
//
// One mutex covers the whole structure: enqueue/dequeue run every few
// seconds over a handful of destinations, so correctness beats
// throughput here. FIFO order holds within a destination; selection
// across destinations is whatever map iteration yields.
//
// A destination is marked in flight from Dequeue until Release, and
// in-flight destinations are skipped by Dequeue. Combined with the
// per-destination FIFO this guarantees at most one delivery executing
// per destination at any time, whatever the queue depth.
type dispatchQueue struct {
	mu       sync.Mutex
	pending  map[int64][]Posting
	inflight map[int64]struct{}
	// queuedAds tracks ad ids that are queued or mid-delivery, so a
	// slow delivery spanning detector ticks cannot double-enqueue.
	queuedAds map[int64]struct{}
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{
		pending:   map[int64][]Posting{},
		inflight:  map[int64]struct{}{},
		queuedAds: map[int64]struct{}{},
	}
}

// Enqueue appends p to its destination's sequence. It reports false
// when the ad is already queued or in flight.
func (q *dispatchQueue) Enqueue(p Posting) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.queuedAds[p.AdID]; dup {
		return false
	}
	q.queuedAds[p.AdID] = struct{}{}
	q.pending[p.ChatID] = append(q.pending[p.ChatID], p)
	return true
}

// Dequeue pops the head posting of some destination that has pending
// work and is not currently in flight, marking that destination in
// flight. It reports false when no such destination exists.
func (q *dispatchQueue) Dequeue() (Posting, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for chatID, seq := range q.pending {
		if _, busy := q.inflight[chatID]; busy {
			continue
		}
		p := seq[0]
		if len(seq) == 1 {
			delete(q.pending, chatID)
		} else {
			q.pending[chatID] = seq[1:]
		}
		q.inflight[chatID] = struct{}{}
		return p, true
	}
	return Posting{}, false
}

// Release ends the in-flight window opened by Dequeue.
func (q *dispatchQueue) Release(p Posting) {
	q.mu.Lock()
	delete(q.inflight, p.ChatID)
	delete(q.queuedAds, p.AdID)
	q.mu.Unlock()
}

// Len returns the number of queued (not in-flight) postings.
func (q *dispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, seq := range q.pending {
		n += len(seq)
	}
	return n
}
