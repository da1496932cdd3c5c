// Package broadcast fans an admin announcement out to every account
// through a rate-limited worker pool, so a large user base cannot trip
// Telegram's flood limits.
package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"adbot/internal/transport"

	logx "adbot/pkg/logx"
)

type Config struct {
	Workers    int
	RatePerSec int
	RetryMax   int
}

type job struct {
	id      string
	targets []int64
	text    string
}

// JobStatus is a point-in-time snapshot of one announcement run.
type JobStatus struct {
	ID        string
	Total     int
	Done      int
	Failed    int
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	sender transport.Sender
	log    logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while a Stop is in progress; closed when the
	// workers fully exit.
	stopDone chan struct{}

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration

	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
