package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"adbot/internal/model"

	logx "adbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- accounts ----

func (s *sqliteStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, first_name, tier, premium_until, joined_at FROM accounts WHERE id = ?`, id)

	var a model.Account
	var tier string
	var until sql.NullString
	var joined string
	err := row.Scan(&a.ID, &a.Username, &a.FirstName, &tier, &until, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Tier = model.Tier(tier)
	a.JoinedAt = s.parseTime(joined)
	if until.Valid && until.String != "" {
		t := s.parseTime(until.String)
		a.PremiumUntil = &t
	}
	return &a, nil
}

func (s *sqliteStore) UpsertAccount(ctx context.Context, id int64, username, firstName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, username, first_name, tier, joined_at)
		 VALUES(?,?,?,'free',?)
		 ON CONFLICT(id) DO UPDATE SET username=excluded.username, first_name=excluded.first_name`,
		id, username, firstName, formatTime(time.Now()))
	return err
}

func (s *sqliteStore) SetAccountTier(ctx context.Context, id int64, tier model.Tier, until *time.Time) error {
	var u any
	if until != nil {
		u = formatTime(*until)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET tier = ?, premium_until = ? WHERE id = ?`,
		string(tier), u, id)
	return err
}

func (s *sqliteStore) ListExpiredPremium(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM accounts WHERE tier = 'premium' AND premium_until IS NOT NULL AND premium_until < ?`,
		formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *sqliteStore) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *sqliteStore) ListRecentAccounts(ctx context.Context, limit int) ([]model.Account, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, first_name, tier, premium_until, joined_at
		 FROM accounts ORDER BY joined_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		var tier string
		var until sql.NullString
		var joined string
		if err := rows.Scan(&a.ID, &a.Username, &a.FirstName, &tier, &until, &joined); err != nil {
			return nil, err
		}
		a.Tier = model.Tier(tier)
		a.JoinedAt = s.parseTime(joined)
		if until.Valid && until.String != "" {
			t := s.parseTime(until.String)
			a.PremiumUntil = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- destinations ----

func (s *sqliteStore) UpsertDestination(ctx context.Context, d model.Destination) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations(chat_id, kind, title, owner_id, active, added_at)
		 VALUES(?,?,?,?,1,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   kind=excluded.kind, title=excluded.title, owner_id=excluded.owner_id, active=1`,
		d.ChatID, string(d.Kind), d.Title, d.OwnerID, formatTime(time.Now()))
	return err
}

func (s *sqliteStore) GetDestination(ctx context.Context, chatID int64) (*model.Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, kind, title, owner_id, active,
		        welcome_enabled, welcome_text, welcome_media_ref, welcome_media_kind, added_at
		 FROM destinations WHERE chat_id = ?`, chatID)
	d, err := s.scanDestination(row)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *sqliteStore) ListOwnerDestinations(ctx context.Context, ownerID int64) ([]model.Destination, error) {
	return s.listDestinations(ctx,
		`SELECT chat_id, kind, title, owner_id, active,
		        welcome_enabled, welcome_text, welcome_media_ref, welcome_media_kind, added_at
		 FROM destinations WHERE owner_id = ? AND active = 1`, ownerID)
}

func (s *sqliteStore) ListActiveDestinations(ctx context.Context) ([]model.Destination, error) {
	return s.listDestinations(ctx,
		`SELECT chat_id, kind, title, owner_id, active,
		        welcome_enabled, welcome_text, welcome_media_ref, welcome_media_kind, added_at
		 FROM destinations WHERE active = 1`)
}

func (s *sqliteStore) listDestinations(ctx context.Context, query string, args ...any) ([]model.Destination, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Destination
	for rows.Next() {
		d, err := s.scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqliteStore) scanDestination(r rowScanner) (*model.Destination, error) {
	var d model.Destination
	var kind, mediaKind, added string
	var active, welcomeEnabled int
	err := r.Scan(&d.ChatID, &kind, &d.Title, &d.OwnerID, &active,
		&welcomeEnabled, &d.WelcomeText, &d.WelcomeMediaRef, &mediaKind, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Kind = model.DestinationKind(kind)
	d.Active = active != 0
	d.WelcomeEnabled = welcomeEnabled != 0
	d.WelcomeMediaKind = model.MediaKind(mediaKind)
	d.AddedAt = s.parseTime(added)
	return &d, nil
}

func (s *sqliteStore) DeactivateDestination(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET active = 0 WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE ads SET active = 0 WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) SetWelcome(ctx context.Context, chatID int64, enabled bool, text, mediaRef string, mediaKind model.MediaKind) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET welcome_enabled = ?, welcome_text = ?, welcome_media_ref = ?, welcome_media_kind = ?
		 WHERE chat_id = ?`,
		boolInt(enabled), text, mediaRef, string(mediaKind), chatID)
	return err
}

// ---- ads ----

func (s *sqliteStore) AddAd(ctx context.Context, ad model.Ad) (int64, error) {
	if ad.Interval < model.MinAdInterval {
		return 0, fmt.Errorf("ad interval %s below minimum %s", ad.Interval, model.MinAdInterval)
	}
	// Reject ads for unknown or deactivated destinations up front; the
	// detector only joins on active ones anyway.
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT active FROM destinations WHERE chat_id = ?`, ad.ChatID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && active == 0) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ads(chat_id, content, media_kind, media_ref, interval_secs, active, created_at)
		 VALUES(?,?,?,?,?,1,?)`,
		ad.ChatID, ad.Content, string(ad.MediaKind), ad.MediaRef,
		int64(ad.Interval/time.Second), formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetAd(ctx context.Context, id int64) (*model.Ad, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, content, media_kind, media_ref, interval_secs, active, created_at
		 FROM ads WHERE id = ?`, id)
	var ad model.Ad
	var mediaKind, created string
	var active int
	var secs int64
	err := row.Scan(&ad.ID, &ad.ChatID, &ad.Content, &mediaKind, &ad.MediaRef, &secs, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ad.MediaKind = model.MediaKind(mediaKind)
	ad.Interval = time.Duration(secs) * time.Second
	ad.Active = active != 0
	ad.CreatedAt = s.parseTime(created)
	return &ad, nil
}

func (s *sqliteStore) ListDestinationAds(ctx context.Context, chatID int64) ([]model.Ad, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, content, media_kind, media_ref, interval_secs, active, created_at
		 FROM ads WHERE chat_id = ? AND active = 1 ORDER BY created_at DESC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ad
	for rows.Next() {
		var ad model.Ad
		var mediaKind, created string
		var active int
		var secs int64
		if err := rows.Scan(&ad.ID, &ad.ChatID, &ad.Content, &mediaKind, &ad.MediaRef, &secs, &active, &created); err != nil {
			return nil, err
		}
		ad.MediaKind = model.MediaKind(mediaKind)
		ad.Interval = time.Duration(secs) * time.Second
		ad.Active = active != 0
		ad.CreatedAt = s.parseTime(created)
		out = append(out, ad)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeactivateAd(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ads SET active = 0 WHERE id = ?`, id)
	return err
}

// ---- delivery log ----

func (s *sqliteStore) MarkDelivery(ctx context.Context, rec model.DeliveryRecord) error {
	at := rec.PostedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(chat_id, ad_id, posted_at, outcome, reason) VALUES(?,?,?,?,?)`,
		rec.ChatID, rec.AdID, formatTime(at), string(rec.Outcome), rec.Reason)
	return err
}

func (s *sqliteStore) ListDueCandidates(ctx context.Context) ([]DueCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.chat_id, a.content, a.media_kind, a.media_ref, a.interval_secs, a.created_at,
		        d.owner_id,
		        (SELECT MAX(posted_at) FROM deliveries dl
		          WHERE dl.ad_id = a.id AND dl.outcome = 'success') AS last_success
		 FROM ads a
		 JOIN destinations d ON a.chat_id = d.chat_id
		 WHERE a.active = 1 AND d.active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueCandidate
	for rows.Next() {
		var c DueCandidate
		var mediaKind, created string
		var secs int64
		var last sql.NullString
		if err := rows.Scan(&c.Ad.ID, &c.Ad.ChatID, &c.Ad.Content, &mediaKind, &c.Ad.MediaRef,
			&secs, &created, &c.OwnerID, &last); err != nil {
			return nil, err
		}
		c.Ad.MediaKind = model.MediaKind(mediaKind)
		c.Ad.Interval = time.Duration(secs) * time.Second
		c.Ad.Active = true
		c.Ad.CreatedAt = s.parseTime(created)
		if last.Valid && last.String != "" {
			t := s.parseTime(last.String)
			c.LastSuccess = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`)
	if err := row.Scan(&st.TotalAccounts); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE tier = 'premium'`)
	if err := row.Scan(&st.PremiumAccounts); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM destinations WHERE active = 1`)
	if err := row.Scan(&st.ActiveDestinations); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ads WHERE active = 1`)
	if err := row.Scan(&st.ActiveAds); err != nil {
		return st, err
	}
	midnight := time.Now().Truncate(24 * time.Hour)
	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE outcome = 'success' AND posted_at >= ?`,
		formatTime(midnight))
	if err := row.Scan(&st.PostsToday); err != nil {
		return st, err
	}
	return st, nil
}

// ---- helpers ----

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// dbTimeFormat is RFC 3339 with a fixed-width fraction. Timestamps are
// compared as strings in SQL, and RFC3339Nano drops trailing zeros,
// which would order "…05Z" after "…05.5Z". Fixed width keeps string
// order identical to time order.
const dbTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(dbTimeFormat) }

func (s *sqliteStore) parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.log.Warn("corrupt timestamp in database", logx.String("value", raw), logx.Err(err))
		return time.Time{}
	}
	return t
}
