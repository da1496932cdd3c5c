package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/model"

	logx "adbot/pkg/logx"
)

// Admin commands work in the private chat only and are silently
// ignored for everyone outside the allowlist, so probing reveals
// nothing.

func (s *Service) adminOnly(c tele.Context) bool {
	return c.Chat().Type == tele.ChatPrivate && s.isAdmin(c.Sender().ID)
}

// handleActivate grants premium: /activate <user_id> [days].
// Without days the grant is indefinite.
func (s *Service) handleActivate(c tele.Context) error {
	if !s.adminOnly(c) {
		return nil
	}
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /activate <user_id> [days]")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("Bad user id.")
	}
	var until *time.Time
	if len(args) >= 2 {
		days, err := strconv.Atoi(args[1])
		if err != nil || days <= 0 {
			return c.Send("Bad day count.")
		}
		t := time.Now().AddDate(0, 0, days)
		until = &t
	}

	ctx, cancel := reqCtx()
	defer cancel()
	if err := s.store.SetAccountTier(ctx, userID, model.TierPremium, until); err != nil {
		return err
	}
	s.log.Info("premium granted", logx.Int64("user", userID),
		logx.Int64("admin", c.Sender().ID))

	if _, err := s.bot.Send(&tele.User{ID: userID}, "⭐ Your account is premium now. Enjoy!"); err != nil {
		s.log.Debug("premium notice failed", logx.Int64("user", userID), logx.Err(err))
	}
	if until != nil {
		return c.Send(fmt.Sprintf("User %d is premium until %s.", userID, until.Format("2006-01-02")))
	}
	return c.Send(fmt.Sprintf("User %d is premium indefinitely.", userID))
}

func (s *Service) handleDeactivate(c tele.Context) error {
	if !s.adminOnly(c) {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /deactivate <user_id>")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("Bad user id.")
	}
	ctx, cancel := reqCtx()
	defer cancel()
	if err := s.store.SetAccountTier(ctx, userID, model.TierFree, nil); err != nil {
		return err
	}
	s.log.Info("premium revoked", logx.Int64("user", userID),
		logx.Int64("admin", c.Sender().ID))
	return c.Send(fmt.Sprintf("User %d is back on the free plan.", userID))
}

func (s *Service) handleStats(c tele.Context) error {
	if !s.adminOnly(c) {
		return nil
	}
	ctx, cancel := reqCtx()
	defer cancel()
	st, err := s.store.GetStats(ctx)
	if err != nil {
		return err
	}
	text := fmt.Sprintf(
		"📊 Stats\nAccounts: %d (premium %d)\nActive destinations: %d\nActive ads: %d\nPosts today: %d\nQueued postings: %d",
		st.TotalAccounts, st.PremiumAccounts, st.ActiveDestinations, st.ActiveAds, st.PostsToday, s.eng.Pending())
	return c.Send(text)
}

func (s *Service) handleUsers(c tele.Context) error {
	if !s.adminOnly(c) {
		return nil
	}
	ctx, cancel := reqCtx()
	defer cancel()
	accounts, err := s.store.ListRecentAccounts(ctx, 25)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return c.Send("No accounts yet.")
	}
	var b strings.Builder
	b.WriteString("Latest accounts:\n")
	for _, a := range accounts {
		fmt.Fprintf(&b, "%d · %s · %s · joined %s\n",
			a.ID, displayName(&a), a.Tier, a.JoinedAt.Format("2006-01-02"))
	}
	return c.Send(b.String())
}

// handleBroadcast sends an announcement to every account. With no
// argument it opens a one-message flow so multi-line text works.
func (s *Service) handleBroadcast(c tele.Context) error {
	if !s.adminOnly(c) {
		return nil
	}
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		s.convs.begin(c.Sender().ID, &conv{state: convBroadcastText})
		return c.Send("Send the announcement text (or /cancel).")
	}
	return s.runBroadcast(c, text)
}

func (s *Service) runBroadcast(c tele.Context, text string) error {
	ctx, cancel := reqCtx()
	defer cancel()
	ids, err := s.store.ListAccountIDs(ctx)
	if err != nil {
		return err
	}
	jobID := s.bcast.Announce(ids, text)
	s.log.Info("broadcast requested", logx.String("job", jobID),
		logx.Int("targets", len(ids)), logx.Int64("admin", c.Sender().ID))
	return c.Send(fmt.Sprintf("Broadcasting to %d users (job %s).", len(ids), jobID))
}
