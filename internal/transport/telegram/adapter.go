// Package telegram implements the transport surface on top of
// telebot's long polling API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "adbot/pkg/logx"
)

type Config struct {
	Token string
	// PollTimeout is the getUpdates long-poll timeout (default 10s).
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu    sync.Mutex
	running  bool
	pollDone chan struct{}
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying telebot instance so the conversational
// layer can register its handlers before Start.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

// Me returns the bot's own username (without the @).
func (a *Adapter) Me() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	done := make(chan struct{})
	a.pollDone = done
	a.runMu.Unlock()

	go func() {
		defer close(done)
		a.log.Info("polling started", logx.String("bot", a.Me()))
		// Blocks until Stop.
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

// Stop halts polling, waiting for the poll loop bounded by ctx.
// Telegram's long poll can take up to PollTimeout to notice the stop,
// so shutdown never hard-blocks on it.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = false
	done := a.pollDone
	a.pollDone = nil
	a.runMu.Unlock()

	go a.bot.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out", logx.Err(ctx.Err()))
		return nil
	}
}
