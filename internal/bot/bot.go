// Package bot is the conversational layer: command handlers, inline
// keyboards and the small state machines behind multi-step flows (ad
// creation, welcome setup). It owns no scheduling; posting belongs to
// internal/engine.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/engine"
	"adbot/internal/notifier/broadcast"
	"adbot/internal/storage"
	"adbot/internal/tier"

	logx "adbot/pkg/logx"
)

const handlerTimeout = 15 * time.Second

type Config struct {
	AdminIDs []int64
	// FreeDestinations caps how many active destinations a free account
	// may link (default 1). Premium accounts are uncapped.
	FreeDestinations int
	SponsorLink      string
	TONWallet        string
	SupportURL       string
}

type Service struct {
	bot   *tele.Bot
	store storage.Store
	gate  *tier.Gate
	eng   *engine.Service
	bcast *broadcast.Service
	log   logx.Logger

	mu  sync.Mutex
	cfg Config

	convs *convTable
}

func New(cfg Config, b *tele.Bot, store storage.Store, gate *tier.Gate, eng *engine.Service, bcast *broadcast.Service, log logx.Logger) *Service {
	if cfg.FreeDestinations <= 0 {
		cfg.FreeDestinations = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		bot:   b,
		store: store,
		gate:  gate,
		eng:   eng,
		bcast: bcast,
		log:   log,
		cfg:   cfg,
		convs: newConvTable(),
	}
}

// Apply updates the hot-reloadable parts of the config (admin list,
// free limit, payment copy).
func (s *Service) Apply(cfg Config) {
	if cfg.FreeDestinations <= 0 {
		cfg.FreeDestinations = 1
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) isAdmin(userID int64) bool {
	for _, id := range s.config().AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Register wires every handler onto the telebot instance. Call before
// the adapter starts polling.
func (s *Service) Register() {
	s.bot.Use(s.recoverMW, s.logMW, s.accountMW)

	s.bot.Handle("/start", s.handleStart)
	s.bot.Handle("/help", s.handleStart)
	s.bot.Handle("/setup", s.handleSetup)
	s.bot.Handle("/welcome", s.handleWelcomeCommand)
	s.bot.Handle("/cancel", s.handleCancel)
	s.bot.Handle("/skip", s.handleSkip)

	s.bot.Handle("/activate", s.handleActivate)
	s.bot.Handle("/deactivate", s.handleDeactivate)
	s.bot.Handle("/stats", s.handleStats)
	s.bot.Handle("/users", s.handleUsers)
	s.bot.Handle("/broadcast", s.handleBroadcast)

	s.bot.Handle(tele.OnText, s.handleText)
	s.bot.Handle(tele.OnPhoto, s.handleMedia)
	s.bot.Handle(tele.OnVideo, s.handleMedia)
	s.bot.Handle(tele.OnUserJoined, s.handleUserJoined)
	s.bot.Handle(tele.OnAddedToGroup, s.handleAddedToGroup)
	s.bot.Handle(tele.OnMyChatMember, s.handleMyChatMember)

	s.registerCallbacks()
}

func reqCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

func (s *Service) recoverMW(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in handler",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(c)
	}
}

func (s *Service) logMW(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		err := next(c)
		fields := []logx.Field{
			logx.String("text", truncate(c.Text(), 64)),
			logx.Duration("dur", time.Since(start)),
		}
		if c.Chat() != nil {
			fields = append(fields, logx.Int64("chat", c.Chat().ID))
		}
		if c.Sender() != nil {
			fields = append(fields, logx.Int64("from", c.Sender().ID))
		}
		if err != nil {
			s.log.Warn("update failed", append(fields, logx.Err(err))...)
		} else {
			s.log.Debug("update handled", fields...)
		}
		return err
	}
}

// accountMW upserts the sender's account on private interactions so
// every flow can assume the account row exists.
func (s *Service) accountMW(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Chat() != nil && c.Chat().Type == tele.ChatPrivate && c.Sender() != nil {
			ctx, cancel := reqCtx()
			err := s.store.UpsertAccount(ctx, c.Sender().ID, c.Sender().Username, c.Sender().FirstName)
			cancel()
			if err != nil {
				s.log.Warn("account upsert failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
			}
		}
		return next(c)
	}
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
