package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite storage for the dashboard client: the persisted
// notification feed and local key/value settings (auth token, cached
// runtime config).
type Database struct {
	db *sql.DB
}

// NotificationRecord is a persisted notification feed entry. Pos preserves
// the feed order (0 = most recent).
type NotificationRecord struct {
	Pos        int
	ID         string
	Type       string
	Message    string
	Details    string
	Timestamp  time.Time
	Read       bool
	IncidentID int64 // 0 when the entry is not linked to an incident
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS notifications (
			pos INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			details TEXT,
			timestamp DATETIME NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			incident_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

// ReplaceNotifications rewrites the persisted feed with the given entries
// in one transaction. The feed is small and bounded, so a full rewrite is
// the simplest way to keep order and content exact.
func (d *Database) ReplaceNotifications(records []NotificationRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM notifications"); err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO notifications
		(pos, id, type, message, details, timestamp, read, incident_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var incidentID interface{}
		if r.IncidentID != 0 {
			incidentID = r.IncidentID
		}
		if _, err := stmt.Exec(r.Pos, r.ID, r.Type, r.Message, r.Details,
			r.Timestamp.UTC(), r.Read, incidentID); err != nil {
			return fmt.Errorf("failed to insert notification %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// ListNotifications returns the persisted feed in stored order.
func (d *Database) ListNotifications() ([]NotificationRecord, error) {
	rows, err := d.db.Query(`SELECT pos, id, type, message, details, timestamp, read, incident_id
		FROM notifications ORDER BY pos ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var r NotificationRecord
		var details sql.NullString
		var incidentID sql.NullInt64
		if err := rows.Scan(&r.Pos, &r.ID, &r.Type, &r.Message, &details,
			&r.Timestamp, &r.Read, &incidentID); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		r.Details = details.String
		r.IncidentID = incidentID.Int64
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetSetting returns a local setting value, or "" when not set.
func (d *Database) GetSetting(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a local setting value.
func (d *Database) SetSetting(key, value string) error {
	_, err := d.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a local setting.
func (d *Database) DeleteSetting(key string) error {
	if _, err := d.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
