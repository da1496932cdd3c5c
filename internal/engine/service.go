// Package engine is the posting core: a periodic due-ad detector, a
// per-destination dispatch queue, a fixed worker pool and the delivery
// executor that talks to the messaging transport.
package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"adbot/internal/transport"

	logx "adbot/pkg/logx"
)

type Service struct {
	cfg    Config
	log    logx.Logger
	store  Store
	sender transport.Sender
	gate   Entitler
	clock  Clock

	mu           sync.Mutex
	sponsorLink  string
	sponsorDelay time.Duration

	queue     *dispatchQueue
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, store Store, sender transport.Sender, gate Entitler, log logx.Logger) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = time.Second
	}
	if cfg.SponsorDelay <= 0 {
		cfg.SponsorDelay = 30 * time.Second
	}
	return &Service{
		cfg:          cfg,
		log:          log,
		store:        store,
		sender:       sender,
		gate:         gate,
		clock:        realClock{},
		sponsorLink:  cfg.SponsorLink,
		sponsorDelay: cfg.SponsorDelay,
	}
}

// ApplySponsor updates the sponsor link and delay. Hot-reload safe; a
// delivery already past its entitlement check keeps the old values.
func (s *Service) ApplySponsor(link string, delay time.Duration) {
	if delay <= 0 {
		delay = 30 * time.Second
	}
	s.mu.Lock()
	s.sponsorLink = link
	s.sponsorDelay = delay
	s.mu.Unlock()
}

func (s *Service) sponsor() (string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sponsorLink, s.sponsorDelay
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	// Fresh queue per run so postings queued before a stop are not
	// delivered by a later start.
	s.queue = newDispatchQueue()
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	stopCh := s.stopCh
	queue := s.queue
	workers := s.cfg.Workers
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.detectorLoop(runCtx, stopCh, queue)
	}()

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in posting worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.log.Info("engine started",
		logx.Int("workers", workers),
		logx.Duration("tick", s.cfg.TickInterval))
}

// Stop signals the detector and workers and waits for in-flight
// deliveries to finish, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.wg.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("engine stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Pending returns the number of queued postings (for /stats).
func (s *Service) Pending() int {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Len()
}
