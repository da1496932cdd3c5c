package bot

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/model"

	logx "adbot/pkg/logx"
)

// handleSetup links the group it is sent in to the sender's account.
func (s *Service) handleSetup(c tele.Context) error {
	chat := c.Chat()
	if chat.Type == tele.ChatPrivate {
		return c.Send(fmt.Sprintf(setupText, s.config().FreeDestinations))
	}
	if chat.Type != tele.ChatGroup && chat.Type != tele.ChatSuperGroup {
		return nil
	}

	ctx, cancel := reqCtx()
	defer cancel()
	ok, msg, err := s.linkDestination(ctx, model.Destination{
		ChatID:  chat.ID,
		Kind:    model.KindGroup,
		Title:   chat.Title,
		OwnerID: c.Sender().ID,
		Active:  true,
	})
	if err != nil {
		return err
	}
	if !ok {
		return c.Send(msg)
	}
	return c.Send("✅ Group linked. Manage its ads in our private chat.")
}

// handleWelcomeCommand is a group-side shortcut to the welcome menu.
func (s *Service) handleWelcomeCommand(c tele.Context) error {
	chat := c.Chat()
	if chat.Type != tele.ChatGroup && chat.Type != tele.ChatSuperGroup {
		return nil
	}
	ctx, cancel := reqCtx()
	defer cancel()
	d, err := s.store.GetDestination(ctx, chat.ID)
	if err != nil || !d.Active || d.OwnerID != c.Sender().ID {
		return nil
	}
	return c.Send("Configure the welcome message in our private chat: tap My chats → " + chat.Title)
}

func (s *Service) handleAddedToGroup(c tele.Context) error {
	return c.Send("Hi! The member who manages ads here should send /setup to link this group.")
}

// handleMyChatMember tracks the bot's own membership. Promotion to
// channel admin links the channel to whoever promoted the bot; being
// kicked or removed deactivates the destination.
func (s *Service) handleMyChatMember(c tele.Context) error {
	upd := c.ChatMember()
	if upd == nil || upd.NewChatMember == nil {
		return nil
	}
	chat := upd.Chat
	role := upd.NewChatMember.Role

	ctx, cancel := reqCtx()
	defer cancel()

	switch role {
	case tele.Kicked, tele.Left:
		if err := s.store.DeactivateDestination(ctx, chat.ID); err != nil {
			s.log.Warn("deactivation on removal failed", logx.Int64("chat", chat.ID), logx.Err(err))
			return nil
		}
		s.log.Info("removed from chat; destination deactivated",
			logx.Int64("chat", chat.ID), logx.String("title", chat.Title))
		return nil

	case tele.Administrator:
		if chat.Type != tele.ChatChannel {
			return nil
		}
		actor := upd.Sender
		if actor == nil {
			return nil
		}
		if err := s.store.UpsertAccount(ctx, actor.ID, actor.Username, actor.FirstName); err != nil {
			s.log.Warn("account upsert failed", logx.Int64("user", actor.ID), logx.Err(err))
		}
		ok, msg, err := s.linkDestination(ctx, model.Destination{
			ChatID:  chat.ID,
			Kind:    model.KindChannel,
			Title:   chat.Title,
			OwnerID: actor.ID,
			Active:  true,
		})
		if err != nil {
			s.log.Warn("channel link failed", logx.Int64("chat", chat.ID), logx.Err(err))
			return nil
		}
		notice := "✅ Channel linked: " + chat.Title
		if !ok {
			notice = msg
		}
		// Tell the owner in private; the channel itself has no audience
		// for bot chatter.
		if _, err := s.bot.Send(&tele.User{ID: actor.ID}, notice); err != nil {
			s.log.Debug("owner notice failed", logx.Int64("user", actor.ID), logx.Err(err))
		}
	}
	return nil
}

// linkDestination enforces the free destination cap and upserts the
// row. Relinking a chat the owner already has never counts against the
// cap.
func (s *Service) linkDestination(ctx context.Context, d model.Destination) (bool, string, error) {
	existing, err := s.store.ListOwnerDestinations(ctx, d.OwnerID)
	if err != nil {
		return false, "", err
	}
	already := false
	for _, e := range existing {
		if e.ChatID == d.ChatID {
			already = true
			break
		}
	}
	if !already {
		entitled, err := s.gate.Entitled(ctx, d.OwnerID)
		if err != nil {
			return false, "", err
		}
		limit := s.config().FreeDestinations
		if !entitled && len(existing) >= limit {
			msg := fmt.Sprintf("Free accounts can link %d chat(s). Remove one first or go premium for unlimited chats.", limit)
			return false, msg, nil
		}
	}
	if err := s.store.UpsertDestination(ctx, d); err != nil {
		return false, "", err
	}
	s.log.Info("destination linked", logx.Int64("chat", d.ChatID),
		logx.String("kind", string(d.Kind)), logx.Int64("owner", d.OwnerID))
	return true, "", nil
}

// handleUserJoined greets new members when the destination has its
// welcome enabled.
func (s *Service) handleUserJoined(c tele.Context) error {
	chat := c.Chat()
	joined := c.Message().UserJoined
	if joined == nil || joined.IsBot {
		return nil
	}
	ctx, cancel := reqCtx()
	defer cancel()
	d, err := s.store.GetDestination(ctx, chat.ID)
	if err != nil || !d.Active || !d.WelcomeEnabled || d.WelcomeText == "" {
		return nil
	}
	name := joined.FirstName
	if name == "" {
		name = joined.Username
	}
	text := renderWelcome(d.WelcomeText, name)
	if d.WelcomeMediaRef != "" {
		var what any
		switch d.WelcomeMediaKind {
		case model.MediaPhoto:
			what = &tele.Photo{File: tele.File{FileID: d.WelcomeMediaRef}, Caption: text}
		case model.MediaVideo:
			what = &tele.Video{File: tele.File{FileID: d.WelcomeMediaRef}, Caption: text}
		}
		if what != nil {
			return c.Send(what)
		}
	}
	return c.Send(text)
}
