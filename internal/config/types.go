package config

// Config is the whole bot configuration. The file may be JSON or YAML;
// both are decoded strictly so typos fail fast instead of being ignored.
//
// All durations are Go duration strings (e.g. "30s", "10m").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Engine      EngineConfig      `json:"engine"`
	Sponsor     SponsorConfig     `json:"sponsor"`
	Limits      LimitsConfig      `json:"limits,omitempty"`
	Broadcast   BroadcastConfig   `json:"broadcast,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Payments    PaymentsConfig    `json:"payments,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may use /activate, /deactivate, /stats, /users and /broadcast.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// GroupLog is the chat id that receives forwarded warn/error log lines.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	// Path of the SQLite database file (default "./adbot.db").
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig controls the posting engine.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "10s"
//   - workers: 3
//   - idle_delay: "1s"
type EngineConfig struct {
	Enabled      bool   `json:"enabled"`
	TickInterval string `json:"tick_interval,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	IdleDelay    string `json:"idle_delay,omitempty"`
}

// SponsorConfig controls the secondary sponsor message appended after a
// free-tier account's ad. An empty link disables sponsor posts entirely.
type SponsorConfig struct {
	Link string `json:"link"`
	// Delay between the primary ad and the sponsor follow-up (default "30s").
	Delay string `json:"delay,omitempty"`
}

type LimitsConfig struct {
	// FreeDestinations is the number of linked chats a free account may
	// own (default 1).
	FreeDestinations int `json:"free_destinations,omitempty"`
}

type BroadcastConfig struct {
	Workers    int `json:"workers,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
	RetryMax   int `json:"retry_max,omitempty"`
}

// MaintenanceConfig schedules background sweeps as cron specs.
//
// Defaults: premium sweep hourly ("0 * * * *"), destination audit once
// a night ("30 3 * * *").
type MaintenanceConfig struct {
	PremiumSweepSpec     string `json:"premium_sweep_spec,omitempty"`
	DestinationAuditSpec string `json:"destination_audit_spec,omitempty"`
	Timezone             string `json:"timezone,omitempty"`
}

type PaymentsConfig struct {
	TONWallet  string `json:"ton_wallet,omitempty"`
	SupportURL string `json:"support_url,omitempty"`
}
