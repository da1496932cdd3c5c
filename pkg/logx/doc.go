// Package logx is the bot's structured logging layer on top of zerolog.
//
// It exposes a small Logger value type plus a Service that owns the sink
// configuration (console, file, Telegram log chat) and can be re-applied
// at runtime when the config file changes. Loggers handed out by the
// Service stay live across Apply() calls, so components never need to be
// re-wired after a reload.
package logx
