package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite storage.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func NewSQLite(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better performance
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS domains (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			from_email TEXT NOT NULL DEFAULT '',
			verified INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			from_name TEXT NOT NULL DEFAULT '',
			domain_id TEXT NOT NULL DEFAULT '',
			csv_key TEXT NOT NULL DEFAULT '',
			recipient_count INTEGER NOT NULL DEFAULT 0,
			follow_up_subject TEXT NOT NULL DEFAULT '',
			follow_up_body TEXT NOT NULL DEFAULT '',
			follow_up_delay_days INTEGER NOT NULL DEFAULT 0,
			schedule_at DATETIME,
			status TEXT NOT NULL DEFAULT 'draft',
			sent INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0,
			opened INTEGER NOT NULL DEFAULT 0,
			replied INTEGER NOT NULL DEFAULT 0,
			bounced INTEGER NOT NULL DEFAULT 0,
			unsubscribed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS replies (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			from_email TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS unsubscribes (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			email TEXT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS campaign_logs (
			campaign_id TEXT PRIMARY KEY,
			logs TEXT NOT NULL DEFAULT '[]',
			is_complete INTEGER NOT NULL DEFAULT 0,
			completion_message TEXT NOT NULL DEFAULT '',
			last_updated DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_replies_campaign_id ON replies(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_unsubscribes_campaign_id ON unsubscribes(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_unsubscribes_token_hash ON unsubscribes(token_hash)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Campaigns ---

const campaignColumns = `id, name, subject, body, from_name, domain_id, csv_key, recipient_count,
	follow_up_subject, follow_up_body, follow_up_delay_days, schedule_at, status,
	sent, delivered, opened, replied, bounced, unsubscribed, created_at, updated_at`

func (s *SQLiteStorage) CreateCampaign(ctx context.Context, c *Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, subject, body, from_name, domain_id, csv_key, recipient_count,
			follow_up_subject, follow_up_body, follow_up_delay_days, schedule_at, status,
			sent, delivered, opened, replied, bounced, unsubscribed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Subject, c.Body, c.FromName, c.DomainID, c.CSVKey, c.RecipientCount,
		c.FollowUpSubject, c.FollowUpBody, c.FollowUpDelayDays, c.ScheduleAt, c.Status,
		c.Metrics.Sent, c.Metrics.Delivered, c.Metrics.Opened, c.Metrics.Replied,
		c.Metrics.Bounced, c.Metrics.Unsubscribed, c.CreatedAt, c.UpdatedAt)
	return err
}

func scanCampaign(row interface{ Scan(...any) error }) (*Campaign, error) {
	c := &Campaign{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.Body, &c.FromName, &c.DomainID, &c.CSVKey, &c.RecipientCount,
		&c.FollowUpSubject, &c.FollowUpBody, &c.FollowUpDelayDays, &c.ScheduleAt, &c.Status,
		&c.Metrics.Sent, &c.Metrics.Delivered, &c.Metrics.Opened, &c.Metrics.Replied,
		&c.Metrics.Bounced, &c.Metrics.Unsubscribed, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStorage) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

func (s *SQLiteStorage) ListCampaigns(ctx context.Context) ([]*Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *SQLiteStorage) UpdateCampaign(ctx context.Context, c *Campaign) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, subject = ?, body = ?, from_name = ?, domain_id = ?,
			csv_key = ?, recipient_count = ?, follow_up_subject = ?, follow_up_body = ?,
			follow_up_delay_days = ?, schedule_at = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Subject, c.Body, c.FromName, c.DomainID,
		c.CSVKey, c.RecipientCount, c.FollowUpSubject, c.FollowUpBody,
		c.FollowUpDelayDays, c.ScheduleAt, time.Now(), c.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) UpdateCampaignStatus(ctx context.Context, id string, status CampaignStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) SetCampaignMetrics(ctx context.Context, id string, m Metrics) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET sent = ?, delivered = ?, opened = ?, replied = ?,
			bounced = ?, unsubscribed = ?, updated_at = ?
		 WHERE id = ?`,
		m.Sent, m.Delivered, m.Opened, m.Replied, m.Bounced, m.Unsubscribed, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// metricColumns whitelists the columns reachable by IncrementCampaignMetric.
var metricColumns = map[string]string{
	MetricSent:         "sent",
	MetricDelivered:    "delivered",
	MetricOpened:       "opened",
	MetricReplied:      "replied",
	MetricBounced:      "bounced",
	MetricUnsubscribed: "unsubscribed",
}

func (s *SQLiteStorage) IncrementCampaignMetric(ctx context.Context, id, metric string) error {
	col, ok := metricColumns[metric]
	if !ok {
		return fmt.Errorf("unknown metric %q", metric)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET `+col+` = `+col+` + 1, updated_at = ? WHERE id = ?`,
		time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) DeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Domains ---

func (s *SQLiteStorage) CreateDomain(ctx context.Context, d *Domain) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (id, name, from_email, verified, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.FromEmail, d.Verified, d.CreatedAt)
	return err
}

func (s *SQLiteStorage) GetDomain(ctx context.Context, id string) (*Domain, error) {
	d := &Domain{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, from_email, verified, created_at FROM domains WHERE id = ?`, id).Scan(
		&d.ID, &d.Name, &d.FromEmail, &d.Verified, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *SQLiteStorage) ListDomains(ctx context.Context) ([]*Domain, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, from_email, verified, created_at FROM domains ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []*Domain
	for rows.Next() {
		d := &Domain{}
		if err := rows.Scan(&d.ID, &d.Name, &d.FromEmail, &d.Verified, &d.CreatedAt); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *SQLiteStorage) DeleteDomain(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Replies ---

func (s *SQLiteStorage) CreateReply(ctx context.Context, r *Reply) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replies (id, campaign_id, from_email, subject, body, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.CampaignID, r.FromEmail, r.Subject, r.Body, r.ReceivedAt)
	return err
}

func (s *SQLiteStorage) ListReplies(ctx context.Context, campaignID string) ([]*Reply, error) {
	query := `SELECT id, campaign_id, from_email, subject, body, received_at FROM replies`
	args := []any{}
	if campaignID != "" {
		query += ` WHERE campaign_id = ?`
		args = append(args, campaignID)
	}
	query += ` ORDER BY received_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replies []*Reply
	for rows.Next() {
		r := &Reply{}
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.FromEmail, &r.Subject, &r.Body, &r.ReceivedAt); err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

// --- Unsubscribes ---

func (s *SQLiteStorage) CreateUnsubscribe(ctx context.Context, u *Unsubscribe) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unsubscribes (id, campaign_id, email, token_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.CampaignID, u.Email, u.TokenHash, u.CreatedAt)
	return err
}

func (s *SQLiteStorage) GetUnsubscribeByTokenHash(ctx context.Context, hash string) (*Unsubscribe, error) {
	u := &Unsubscribe{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, email, token_hash, created_at
		 FROM unsubscribes WHERE token_hash = ?`, hash).Scan(
		&u.ID, &u.CampaignID, &u.Email, &u.TokenHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *SQLiteStorage) ListUnsubscribes(ctx context.Context, campaignID string) ([]*Unsubscribe, error) {
	query := `SELECT id, campaign_id, email, token_hash, created_at FROM unsubscribes`
	args := []any{}
	if campaignID != "" {
		query += ` WHERE campaign_id = ?`
		args = append(args, campaignID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unsubs []*Unsubscribe
	for rows.Next() {
		u := &Unsubscribe{}
		if err := rows.Scan(&u.ID, &u.CampaignID, &u.Email, &u.TokenHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		unsubs = append(unsubs, u)
	}
	return unsubs, rows.Err()
}

// --- Campaign log snapshots ---

func (s *SQLiteStorage) SaveCampaignLogs(ctx context.Context, rec *CampaignLogRecord) error {
	logs, err := json.Marshal(rec.Logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaign_logs (campaign_id, logs, is_complete, completion_message, last_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(campaign_id) DO UPDATE SET
			logs = excluded.logs,
			is_complete = excluded.is_complete,
			completion_message = excluded.completion_message,
			last_updated = excluded.last_updated`,
		rec.CampaignID, string(logs), rec.IsComplete, rec.CompletionMessage, rec.LastUpdated)
	return err
}

func (s *SQLiteStorage) GetCampaignLogs(ctx context.Context, campaignID string) (*CampaignLogRecord, error) {
	rec := &CampaignLogRecord{}
	var logs string
	var lastUpdated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT campaign_id, logs, is_complete, completion_message, last_updated
		 FROM campaign_logs WHERE campaign_id = ?`, campaignID).Scan(
		&rec.CampaignID, &logs, &rec.IsComplete, &rec.CompletionMessage, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(logs), &rec.Logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	if lastUpdated.Valid {
		rec.LastUpdated = lastUpdated.Time
	}
	return rec, nil
}

// requireRow maps zero affected rows to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
