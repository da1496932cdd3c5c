// Package maintenance runs the periodic housekeeping jobs: the premium
// expiry sweep and the destination audit. Both are safety nets; the
// tier gate and the delivery executor already handle each case lazily,
// so a missed run costs nothing but delay.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"adbot/internal/model"

	logx "adbot/pkg/logx"
)

type Config struct {
	// PremiumSweepSpec is a cron spec (default "0 * * * *", hourly).
	PremiumSweepSpec string
	// DestinationAuditSpec is a cron spec (default "30 3 * * *").
	DestinationAuditSpec string
	Timezone             string
}

// Store is the slice of the storage layer maintenance needs.
type Store interface {
	ListExpiredPremium(ctx context.Context, now time.Time) ([]int64, error)
	SetAccountTier(ctx context.Context, id int64, tier model.Tier, until *time.Time) error
	ListActiveDestinations(ctx context.Context) ([]model.Destination, error)
	ListDestinationAds(ctx context.Context, chatID int64) ([]model.Ad, error)
}

type Service struct {
	cfg   Config
	store Store
	log   logx.Logger

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store Store, log logx.Logger) *Service {
	if cfg.PremiumSweepSpec == "" {
		cfg.PremiumSweepSpec = "0 * * * *"
	}
	if cfg.DestinationAuditSpec == "" {
		cfg.DestinationAuditSpec = "30 3 * * *"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	loc := time.Local
	if s.cfg.Timezone != "" {
		l, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			s.log.Warn("invalid timezone; using local", logx.String("tz", s.cfg.Timezone), logx.Err(err))
		} else {
			loc = l
		}
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	if _, err := s.c.AddFunc(s.cfg.PremiumSweepSpec, func() { s.PremiumSweep(ctx) }); err != nil {
		return err
	}
	if _, err := s.c.AddFunc(s.cfg.DestinationAuditSpec, func() { s.DestinationAudit(ctx) }); err != nil {
		return err
	}

	s.c.Start()
	s.log.Info("maintenance started",
		logx.String("premium_sweep", s.cfg.PremiumSweepSpec),
		logx.String("destination_audit", s.cfg.DestinationAuditSpec))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// PremiumSweep downgrades every expired premium account in one pass.
// The gate would do the same lazily on the next entitlement check; the
// sweep keeps /users and /stats honest in between.
func (s *Service) PremiumSweep(ctx context.Context) {
	ids, err := s.store.ListExpiredPremium(ctx, time.Now())
	if err != nil {
		s.log.Error("premium sweep query failed", logx.Err(err))
		return
	}
	downgraded := 0
	for _, id := range ids {
		if err := s.store.SetAccountTier(ctx, id, model.TierFree, nil); err != nil {
			s.log.Warn("premium sweep downgrade failed", logx.Int64("account", id), logx.Err(err))
			continue
		}
		downgraded++
	}
	if downgraded > 0 {
		s.log.Info("premium sweep", logx.Int("downgraded", downgraded))
	}
}

// DestinationAudit logs active destinations that have no active ads,
// which usually means an owner abandoned them mid-setup.
func (s *Service) DestinationAudit(ctx context.Context) {
	dests, err := s.store.ListActiveDestinations(ctx)
	if err != nil {
		s.log.Error("destination audit query failed", logx.Err(err))
		return
	}
	idle := 0
	for _, d := range dests {
		ads, err := s.store.ListDestinationAds(ctx, d.ChatID)
		if err != nil {
			s.log.Warn("destination audit read failed", logx.Int64("chat", d.ChatID), logx.Err(err))
			continue
		}
		active := 0
		for _, a := range ads {
			if a.Active {
				active++
			}
		}
		if active == 0 {
			idle++
			s.log.Debug("destination without active ads",
				logx.Int64("chat", d.ChatID), logx.String("title", d.Title))
		}
	}
	s.log.Info("destination audit",
		logx.Int("active_destinations", len(dests)), logx.Int("without_ads", idle))
}
