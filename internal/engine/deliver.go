package engine

import (
	"context"
	"errors"
	"fmt"

	"adbot/internal/model"
	"adbot/internal/transport"

	logx "adbot/pkg/logx"
)

const sponsorTemplate = "🔥 Want your ads here without the sponsor tag?\nGo premium: %s"

// deliver executes one posting end to end: send the ad, record the
// outcome, and for non-entitled owners follow up with the sponsor post
// after the configured delay. The caller releases the destination's
// in-flight mark when deliver returns, so the sponsor delay runs inside
// the exclusive window and no later ad can slip between the pair.
func (s *Service) deliver(ctx context.Context, p Posting) {
	target := transport.ChatTarget{ChatID: p.ChatID}

	err := s.sendAd(ctx, target, p)
	if err != nil {
		if errors.Is(err, transport.ErrAccessRevoked) {
			s.log.Warn("destination access revoked; deactivating",
				logx.Int64("chat", p.ChatID), logx.Int64("ad", p.AdID))
			if derr := s.store.DeactivateDestination(ctx, p.ChatID); derr != nil {
				s.log.Error("deactivation failed", logx.Int64("chat", p.ChatID), logx.Err(derr))
			}
			s.record(ctx, p, model.DeliveryFailure, "access revoked")
			return
		}
		s.log.Warn("ad delivery failed",
			logx.Int64("ad", p.AdID), logx.Int64("chat", p.ChatID), logx.Err(err))
		s.record(ctx, p, model.DeliveryFailure, err.Error())
		return
	}

	s.record(ctx, p, model.DeliverySuccess, "")
	s.log.Info("ad delivered", logx.Int64("ad", p.AdID), logx.Int64("chat", p.ChatID))

	// Entitlement is resolved now, not at enqueue time, so a tier change
	// while the posting sat in the queue is honored.
	link, delay := s.sponsor()
	if link == "" {
		return
	}
	entitled, err := s.gate.Entitled(ctx, p.OwnerID)
	if err != nil {
		// Better to skip one sponsor post than to tag a paying user on a
		// store glitch.
		s.log.Warn("entitlement check failed; skipping sponsor",
			logx.Int64("owner", p.OwnerID), logx.Err(err))
		return
	}
	if entitled {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(delay):
	}
	text := fmt.Sprintf(sponsorTemplate, link)
	if _, err := s.sender.SendText(ctx, target, text, &transport.SendOptions{DisablePreview: true}); err != nil {
		// Sponsor failures never touch the ad's schedule.
		s.log.Warn("sponsor post failed", logx.Int64("chat", p.ChatID), logx.Err(err))
	}
}

func (s *Service) sendAd(ctx context.Context, target transport.ChatTarget, p Posting) error {
	if p.MediaKind == model.MediaNone {
		_, err := s.sender.SendText(ctx, target, p.Content, nil)
		return err
	}
	media := transport.Media{Kind: transport.MediaKind(p.MediaKind), Ref: p.MediaRef}
	_, err := s.sender.SendMedia(ctx, target, media, p.Content, nil)
	return err
}

func (s *Service) record(ctx context.Context, p Posting, outcome model.DeliveryOutcome, reason string) {
	rec := model.DeliveryRecord{
		ChatID:   p.ChatID,
		AdID:     p.AdID,
		PostedAt: s.clock.Now(),
		Outcome:  outcome,
		Reason:   reason,
	}
	if err := s.store.MarkDelivery(ctx, rec); err != nil {
		s.log.Error("delivery record write failed",
			logx.Int64("ad", p.AdID), logx.String("outcome", string(outcome)), logx.Err(err))
	}
}
