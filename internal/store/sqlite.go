// Package store provides storage backends for MomentPipe.
//
// This file implements an SQLite-backed store for engine state blobs and the
// dispatch log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/MomentPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists engine state in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) loadBlob(key string, out interface{}) (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state_blobs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore loadBlob query failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		slog.Error("SQLiteStore loadBlob unmarshal failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to decode blob %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) saveBlob(key string, in interface{}) error {
	value, err := json.Marshal(in)
	if err != nil {
		slog.Error("SQLiteStore saveBlob marshal failed", "error", err, "key", key)
		return fmt.Errorf("failed to encode blob %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO state_blobs (key, value, updated_at) VALUES (?, ?, ?)`,
		key, string(value), time.Now().UnixMilli(),
	)
	if err != nil {
		slog.Error("SQLiteStore saveBlob failed", "error", err, "key", key)
		return fmt.Errorf("failed to save blob %s: %w", key, err)
	}
	slog.Debug("SQLiteStore saveBlob succeeded", "key", key)
	return nil
}

// LoadNotificationHistory returns the persisted cooldown map.
func (s *SQLiteStore) LoadNotificationHistory() (models.NotificationHistory, error) {
	h := make(models.NotificationHistory)
	if _, err := s.loadBlob(KeyNotificationHistory, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// SaveNotificationHistory overwrites the persisted cooldown map.
func (s *SQLiteStore) SaveNotificationHistory(h models.NotificationHistory) error {
	return s.saveBlob(KeyNotificationHistory, h)
}

// LoadSeenHistory returns the persisted seen map.
func (s *SQLiteStore) LoadSeenHistory() (models.SeenHistory, error) {
	h := make(models.SeenHistory)
	if _, err := s.loadBlob(KeySeenHistory, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// SaveSeenHistory overwrites the persisted seen map.
func (s *SQLiteStore) SaveSeenHistory(h models.SeenHistory) error {
	return s.saveBlob(KeySeenHistory, h)
}

// LoadActivityStats returns the persisted activity stats, or nil when absent.
func (s *SQLiteStore) LoadActivityStats() (*models.ActivityStats, error) {
	var stats models.ActivityStats
	found, err := s.loadBlob(KeyActivityStats, &stats)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &stats, nil
}

// SaveActivityStats overwrites the persisted activity stats.
func (s *SQLiteStore) SaveActivityStats(stats models.ActivityStats) error {
	return s.saveBlob(KeyActivityStats, stats)
}

// AddNotificationRecord appends a dispatch log entry.
func (s *SQLiteStore) AddNotificationRecord(r models.NotificationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO notification_log (moment_id, channel, status, time) VALUES (?, ?, ?, ?)`,
		r.MomentID, r.Channel, r.Status, r.Time,
	)
	if err != nil {
		slog.Error("SQLiteStore AddNotificationRecord failed", "error", err, "moment_id", r.MomentID)
		return fmt.Errorf("failed to insert notification record for %s: %w", r.MomentID, err)
	}
	slog.Debug("SQLiteStore AddNotificationRecord succeeded", "moment_id", r.MomentID, "status", r.Status)
	return nil
}

// GetNotificationRecords returns the dispatch log, oldest first.
func (s *SQLiteStore) GetNotificationRecords() ([]models.NotificationRecord, error) {
	rows, err := s.db.Query(`SELECT moment_id, channel, status, time FROM notification_log ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetNotificationRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query notification log: %w", err)
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		var r models.NotificationRecord
		if err := rows.Scan(&r.MomentID, &r.Channel, &r.Status, &r.Time); err != nil {
			slog.Error("SQLiteStore GetNotificationRecords scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetNotificationRecords rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate notification records: %w", err)
	}
	return records, nil
}

// Reset deletes all persisted engine state.
func (s *SQLiteStore) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM state_blobs`); err != nil {
		slog.Error("SQLiteStore Reset state_blobs failed", "error", err)
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM notification_log`); err != nil {
		slog.Error("SQLiteStore Reset notification_log failed", "error", err)
		return err
	}
	slog.Debug("SQLiteStore Reset succeeded")
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
