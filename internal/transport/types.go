// Package transport defines the provider-neutral messaging surface the
// rest of the bot is written against. The Telegram implementation lives
// in transport/telegram.
package transport

import (
	"context"
	"errors"
)

// ErrAccessRevoked reports a permanent delivery failure: the bot was
// removed from the destination, or the destination no longer exists.
// Callers must treat it as final and deactivate the destination; every
// other send error is transient and safe to retry on the next cycle.
var ErrAccessRevoked = errors.New("destination access revoked")

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// Media references an already-uploaded provider asset (Telegram file_id).
type Media struct {
	Kind MediaKind
	Ref  string
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Sender is the narrow surface the delivery engine and the log sink use.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, media Media, caption string, opt *SendOptions) (MessageRef, error)
}

// Adapter is the full provider surface including lifecycle.
type Adapter interface {
	Sender

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
