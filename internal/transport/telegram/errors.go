package telegram

import (
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/transport"
)

// classifySendError maps telebot errors onto the transport contract.
// A 403 (bot kicked, blocked, or without rights) and an unknown chat
// are permanent: the destination is gone for this bot. Everything else
// (rate limits, 5xx, network) stays transient.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	if isAccessRevoked(err) {
		return fmt.Errorf("%w: %v", transport.ErrAccessRevoked, err)
	}
	return err
}

func isAccessRevoked(err error) bool {
	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel),
		errors.Is(err, tele.ErrNotStartedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated):
		return true
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code == 403
	}
	return false
}
