package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/model"
	"adbot/internal/storage"

	logx "adbot/pkg/logx"
)

func (s *Service) handleStart(c tele.Context) error {
	if c.Chat().Type != tele.ChatPrivate {
		return nil
	}
	s.convs.clear(c.Sender().ID)
	return c.Send(startText, mainMenu())
}

func (s *Service) handleCancel(c tele.Context) error {
	if c.Chat().Type != tele.ChatPrivate {
		return nil
	}
	s.convs.clear(c.Sender().ID)
	return c.Send("Cancelled.", mainMenu())
}

func (s *Service) registerCallbacks() {
	handle := func(unique string, h tele.HandlerFunc) {
		s.bot.Handle(&tele.Btn{Unique: unique}, func(c tele.Context) error {
			defer func() { _ = c.Respond() }()
			return h(c)
		})
	}

	handle(cbMainMenu, func(c tele.Context) error {
		s.convs.clear(c.Sender().ID)
		return c.Edit(startText, mainMenu())
	})
	handle(cbSetupHelp, func(c tele.Context) error {
		return c.Edit(fmt.Sprintf(setupText, s.config().FreeDestinations), mainMenu())
	})
	handle(cbChats, s.showChats)
	handle(cbChatOpen, s.showChat)
	handle(cbChatRemove, s.confirmRemoveChat)
	handle(cbChatRemoveY, s.removeChat)
	handle(cbAdNew, s.startAdFlow)
	handle(cbAdList, s.showAds)
	handle(cbAdDelete, s.deleteAd)
	handle(cbWelcome, s.showWelcome)
	handle(cbWelcomeTgl, s.toggleWelcome)
	handle(cbWelcomeTxt, s.startWelcomeTextFlow)
	handle(cbWelcomeMed, s.startWelcomeMediaFlow)
	handle(cbProfile, s.showProfile)
	handle(cbPremium, s.showPremium)
}

// ownedDestination resolves the callback payload to a destination the
// caller actually owns. Every chat-scoped callback goes through it.
func (s *Service) ownedDestination(c tele.Context) (*model.Destination, error) {
	chatID, err := strconv.ParseInt(c.Data(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad chat id %q: %w", c.Data(), err)
	}
	ctx, cancel := reqCtx()
	defer cancel()
	d, err := s.store.GetDestination(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if d.OwnerID != c.Sender().ID || !d.Active {
		return nil, storage.ErrNotFound
	}
	return d, nil
}

func (s *Service) showChats(c tele.Context) error {
	ctx, cancel := reqCtx()
	defer cancel()
	dests, err := s.store.ListOwnerDestinations(ctx, c.Sender().ID)
	if err != nil {
		return err
	}
	if len(dests) == 0 {
		return c.Edit("No linked chats yet.\n\n"+fmt.Sprintf(setupText, s.config().FreeDestinations), mainMenu())
	}
	return c.Edit("Your linked chats:", chatsMenu(dests))
}

func (s *Service) showChat(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx()
	defer cancel()
	ads, err := s.store.ListDestinationAds(ctx, d.ChatID)
	if err != nil {
		return err
	}
	active := 0
	for _, a := range ads {
		if a.Active {
			active++
		}
	}
	text := fmt.Sprintf("%s\nActive ads: %d", d.Title, active)
	return c.Edit(text, chatMenu(*d))
}

func (s *Service) confirmRemoveChat(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Remove %q? Its ads stop posting immediately.", d.Title)
	return c.Edit(text, confirmRemoveMenu(d.ChatID))
}

func (s *Service) removeChat(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx()
	defer cancel()
	if err := s.store.DeactivateDestination(ctx, d.ChatID); err != nil {
		return err
	}
	s.log.Info("destination removed by owner",
		logx.Int64("chat", d.ChatID), logx.Int64("owner", c.Sender().ID))
	return c.Edit("Removed. I will stay in the chat until you kick me.", mainMenu())
}

func (s *Service) startAdFlow(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	s.convs.begin(c.Sender().ID, &conv{state: convAdContent, chatID: d.ChatID})
	return c.Edit(fmt.Sprintf("Creating an ad for %q.\n\nSend the ad text (or /cancel).", d.Title))
}

func (s *Service) showAds(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx()
	defer cancel()
	ads, err := s.store.ListDestinationAds(ctx, d.ChatID)
	if err != nil {
		return err
	}
	var active []model.Ad
	for _, a := range ads {
		if a.Active {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return c.Edit("No ads yet. Tap below to go back.", chatMenu(*d))
	}
	return c.Edit("Tap an ad to delete it:", adListMenu(d.ChatID, active))
}

func (s *Service) deleteAd(c tele.Context) error {
	adID, err := strconv.ParseInt(c.Data(), 10, 64)
	if err != nil {
		return fmt.Errorf("bad ad id %q: %w", c.Data(), err)
	}
	ctx, cancel := reqCtx()
	defer cancel()
	ad, err := s.store.GetAd(ctx, adID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That ad is already gone.", mainMenu())
	}
	if err != nil {
		return err
	}
	d, err := s.store.GetDestination(ctx, ad.ChatID)
	if err != nil {
		return err
	}
	if d.OwnerID != c.Sender().ID {
		return c.Edit("That ad is not yours.", mainMenu())
	}
	if err := s.store.DeactivateAd(ctx, adID); err != nil {
		return err
	}
	s.log.Info("ad deleted", logx.Int64("ad", adID), logx.Int64("owner", c.Sender().ID))
	return c.Edit("Ad deleted.", chatMenu(*d))
}

func (s *Service) showWelcome(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	state := "off"
	if d.WelcomeEnabled {
		state = "on"
	}
	text := fmt.Sprintf("Welcome greeting for %q is %s.", d.Title, state)
	if d.WelcomeText != "" {
		text += "\n\nCurrent text:\n" + d.WelcomeText
	}
	text += "\n\nUse {name} in the text as a placeholder for the new member."
	return c.Edit(text, welcomeMenu(*d))
}

func (s *Service) toggleWelcome(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx()
	defer cancel()
	d.WelcomeEnabled = !d.WelcomeEnabled
	if err := s.store.SetWelcome(ctx, d.ChatID, d.WelcomeEnabled, d.WelcomeText, d.WelcomeMediaRef, d.WelcomeMediaKind); err != nil {
		return err
	}
	return s.showWelcome(c)
}

func (s *Service) startWelcomeTextFlow(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	s.convs.begin(c.Sender().ID, &conv{state: convWelcomeText, chatID: d.ChatID})
	return c.Edit("Send the new welcome text. {name} becomes the member's name. (/cancel to abort)")
}

func (s *Service) startWelcomeMediaFlow(c tele.Context) error {
	d, err := s.ownedDestination(c)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Edit("That chat is no longer linked.", mainMenu())
	}
	if err != nil {
		return err
	}
	s.convs.begin(c.Sender().ID, &conv{state: convWelcomeMedia, chatID: d.ChatID})
	return c.Edit("Send a photo or video for the greeting. (/cancel to abort)")
}

func (s *Service) showProfile(c tele.Context) error {
	ctx, cancel := reqCtx()
	defer cancel()
	a, err := s.store.GetAccount(ctx, c.Sender().ID)
	if err != nil {
		return err
	}
	dests, err := s.store.ListOwnerDestinations(ctx, a.ID)
	if err != nil {
		return err
	}
	ads := 0
	for _, d := range dests {
		list, err := s.store.ListDestinationAds(ctx, d.ChatID)
		if err != nil {
			continue
		}
		for _, ad := range list {
			if ad.Active {
				ads++
			}
		}
	}
	return c.Edit(profileText(a, len(dests), ads), mainMenu())
}

func (s *Service) showPremium(c tele.Context) error {
	cfg := s.config()
	m := mainMenu()
	return c.Edit(premiumText(cfg.TONWallet, cfg.SupportURL), m, tele.ModeMarkdown)
}

// handleText advances whatever flow the sender has open; with no open
// flow it just re-shows the menu.
func (s *Service) handleText(c tele.Context) error {
	if c.Chat().Type != tele.ChatPrivate {
		return nil
	}
	cv := s.convs.get(c.Sender().ID)
	if cv == nil {
		return c.Send(startText, mainMenu())
	}

	switch cv.state {
	case convAdContent:
		cv.draftContent = strings.TrimSpace(c.Text())
		if cv.draftContent == "" {
			return c.Send("The ad text cannot be empty. Try again or /cancel.")
		}
		cv.state = convAdMedia
		return c.Send("Now send a photo or video for the ad, or /skip for text only.")

	case convAdMedia:
		return c.Send("Send a photo or video, or /skip for a text-only ad.")

	case convWelcomeMedia:
		return c.Send("Send a photo or video for the greeting, or /cancel.")

	case convAdInterval:
		interval, err := parseInterval(c.Text())
		if err != nil {
			return c.Send("I need a posting interval like `30` (minutes), `45m` or `2h`. Minimum is 5 minutes.")
		}
		return s.finishAdFlow(c, cv, interval)

	case convWelcomeText:
		text := strings.TrimSpace(c.Text())
		if text == "" {
			return c.Send("The welcome text cannot be empty. Try again or /cancel.")
		}
		ctx, cancel := reqCtx()
		defer cancel()
		d, err := s.store.GetDestination(ctx, cv.chatID)
		if err != nil {
			s.convs.clear(c.Sender().ID)
			return c.Send("That chat is no longer linked.", mainMenu())
		}
		if err := s.store.SetWelcome(ctx, d.ChatID, true, text, d.WelcomeMediaRef, d.WelcomeMediaKind); err != nil {
			return err
		}
		s.convs.clear(c.Sender().ID)
		return c.Send("Welcome text saved and greeting enabled.", mainMenu())

	case convBroadcastText:
		s.convs.clear(c.Sender().ID)
		return s.runBroadcast(c, c.Text())
	}
	return nil
}

func (s *Service) handleMedia(c tele.Context) error {
	if c.Chat().Type != tele.ChatPrivate {
		return nil
	}
	cv := s.convs.get(c.Sender().ID)
	if cv == nil {
		return nil
	}
	kind, ref, ok := mediaFromMessage(c.Message())

	switch cv.state {
	case convAdMedia:
		if !ok {
			return c.Send("Only photos and videos are supported. Send one, or /skip.")
		}
		cv.draftMediaKind = kind
		cv.draftMediaRef = ref
		cv.state = convAdInterval
		return c.Send("Got it. How often should I post it? Send minutes (e.g. `30`) or a duration (`45m`, `2h`). Minimum 5 minutes.")

	case convWelcomeMedia:
		if !ok {
			return c.Send("Only photos and videos are supported for the greeting. Try again or /cancel.")
		}
		ctx, cancel := reqCtx()
		defer cancel()
		d, err := s.store.GetDestination(ctx, cv.chatID)
		if err != nil {
			s.convs.clear(c.Sender().ID)
			return c.Send("That chat is no longer linked.", mainMenu())
		}
		if err := s.store.SetWelcome(ctx, d.ChatID, true, d.WelcomeText, ref, kind); err != nil {
			return err
		}
		s.convs.clear(c.Sender().ID)
		return c.Send("Welcome media saved and greeting enabled.", mainMenu())
	}
	return nil
}

// mediaFromMessage extracts a reusable file reference from an incoming
// photo or video.
func mediaFromMessage(m *tele.Message) (model.MediaKind, string, bool) {
	switch {
	case m == nil:
		return model.MediaNone, "", false
	case m.Photo != nil:
		return model.MediaPhoto, m.Photo.FileID, true
	case m.Video != nil:
		return model.MediaVideo, m.Video.FileID, true
	}
	return model.MediaNone, "", false
}

func (s *Service) handleSkip(c tele.Context) error {
	if c.Chat().Type != tele.ChatPrivate {
		return nil
	}
	cv := s.convs.get(c.Sender().ID)
	if cv == nil || cv.state != convAdMedia {
		return nil
	}
	cv.state = convAdInterval
	return c.Send("Text-only ad. How often should I post it? Send minutes (e.g. `30`) or a duration (`45m`, `2h`). Minimum 5 minutes.")
}

func (s *Service) finishAdFlow(c tele.Context, cv *conv, interval time.Duration) error {
	ctx, cancel := reqCtx()
	defer cancel()

	ad := model.Ad{
		ChatID:    cv.chatID,
		Content:   cv.draftContent,
		MediaKind: cv.draftMediaKind,
		MediaRef:  cv.draftMediaRef,
		Interval:  interval,
		Active:    true,
	}
	id, err := s.store.AddAd(ctx, ad)
	if err != nil {
		s.convs.clear(c.Sender().ID)
		if errors.Is(err, storage.ErrNotFound) {
			return c.Send("That chat is no longer linked.", mainMenu())
		}
		return err
	}
	s.convs.clear(c.Sender().ID)
	s.log.Info("ad created", logx.Int64("ad", id),
		logx.Int64("chat", cv.chatID), logx.Duration("interval", interval))
	return c.Send(fmt.Sprintf("✅ Ad #%d saved. First post goes out within the next scan; after that every %s.", id, interval), mainMenu())
}

// parseInterval accepts bare minutes ("30") or a Go duration ("45m",
// "2h") and enforces the 5 minute floor.
func parseInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty interval")
	}
	var d time.Duration
	if mins, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(mins) * time.Minute
	} else {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return 0, perr
		}
		d = parsed
	}
	if d < model.MinAdInterval {
		return 0, fmt.Errorf("interval %s below the %s minimum", d, model.MinAdInterval)
	}
	return d, nil
}
