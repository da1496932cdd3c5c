package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adbot/internal/transport"

	logx "adbot/pkg/logx"
)

type countingSender struct {
	mu       sync.Mutex
	attempts map[int64]int
	failWith map[int64]error
}

func newCountingSender() *countingSender {
	return &countingSender{attempts: map[int64]int{}, failWith: map[int64]error{}}
}

func (c *countingSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[to.ChatID]++
	if err := c.failWith[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (c *countingSender) SendMedia(ctx context.Context, to transport.ChatTarget, media transport.Media, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, errors.New("not used")
}

func waitStatus(t *testing.T, s *Service, id string, cond func(JobStatus) bool) JobStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := s.Status(id); ok && cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := s.Status(id)
	t.Fatalf("status condition not reached, last: %+v", st)
	return JobStatus{}
}

func TestAnnounceDeliversToAll(t *testing.T) {
	t.Parallel()
	sender := newCountingSender()
	s := New(Config{Workers: 2, RatePerSec: 1000, RetryMax: 2}, sender, logx.Nop())
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	id := s.Announce([]int64{1, 2, 3}, "maintenance tonight")
	st := waitStatus(t, s, id, func(st JobStatus) bool { return !st.DoneAt.IsZero() })
	if st.Done != 3 || st.Failed != 0 {
		t.Fatalf("status = %+v, want 3 done 0 failed", st)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	for _, u := range []int64{1, 2, 3} {
		if sender.attempts[u] != 1 {
			t.Fatalf("user %d got %d attempts, want 1", u, sender.attempts[u])
		}
	}
}

func TestAnnounceSkipsRetryForBlockedUser(t *testing.T) {
	t.Parallel()
	sender := newCountingSender()
	sender.failWith[2] = transport.ErrAccessRevoked
	sender.failWith[3] = errors.New("telegram: 502")
	s := New(Config{Workers: 1, RatePerSec: 1000, RetryMax: 2}, sender, logx.Nop())
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	id := s.Announce([]int64{1, 2, 3}, "hello")
	st := waitStatus(t, s, id, func(st JobStatus) bool { return !st.DoneAt.IsZero() })
	if st.Failed != 2 {
		t.Fatalf("failed = %d, want 2", st.Failed)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.attempts[2] != 1 {
		t.Fatalf("blocked user retried: %d attempts", sender.attempts[2])
	}
	if sender.attempts[3] != 3 {
		t.Fatalf("transient failure got %d attempts, want RetryMax+1 = 3", sender.attempts[3])
	}
}

func TestAnnounceWhileStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newCountingSender(), logx.Nop())
	id := s.Announce([]int64{1, 2}, "dropped")
	st, ok := s.Status(id)
	if !ok {
		t.Fatal("status missing")
	}
	if st.Failed != 2 || st.DoneAt.IsZero() {
		t.Fatalf("status = %+v, want fully failed", st)
	}
}
