// Package store provides storage backends for MomentPipe.
//
// This file implements a PostgreSQL-backed store for engine state blobs and
// the dispatch log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/MomentPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists engine state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) loadBlob(key string, out interface{}) (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state_blobs WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore loadBlob query failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		slog.Error("PostgresStore loadBlob unmarshal failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to decode blob %s: %w", key, err)
	}
	return true, nil
}

func (s *PostgresStore) saveBlob(key string, in interface{}) error {
	value, err := json.Marshal(in)
	if err != nil {
		slog.Error("PostgresStore saveBlob marshal failed", "error", err, "key", key)
		return fmt.Errorf("failed to encode blob %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO state_blobs (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, string(value), time.Now().UnixMilli(),
	)
	if err != nil {
		slog.Error("PostgresStore saveBlob failed", "error", err, "key", key)
		return fmt.Errorf("failed to save blob %s: %w", key, err)
	}
	slog.Debug("PostgresStore saveBlob succeeded", "key", key)
	return nil
}

// LoadNotificationHistory returns the persisted cooldown map.
func (s *PostgresStore) LoadNotificationHistory() (models.NotificationHistory, error) {
	h := make(models.NotificationHistory)
	if _, err := s.loadBlob(KeyNotificationHistory, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// SaveNotificationHistory overwrites the persisted cooldown map.
func (s *PostgresStore) SaveNotificationHistory(h models.NotificationHistory) error {
	return s.saveBlob(KeyNotificationHistory, h)
}

// LoadSeenHistory returns the persisted seen map.
func (s *PostgresStore) LoadSeenHistory() (models.SeenHistory, error) {
	h := make(models.SeenHistory)
	if _, err := s.loadBlob(KeySeenHistory, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// SaveSeenHistory overwrites the persisted seen map.
func (s *PostgresStore) SaveSeenHistory(h models.SeenHistory) error {
	return s.saveBlob(KeySeenHistory, h)
}

// LoadActivityStats returns the persisted activity stats, or nil when absent.
func (s *PostgresStore) LoadActivityStats() (*models.ActivityStats, error) {
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
func (s *PostgresStore) SaveActivityStats(stats models.ActivityStats) error {
	return s.saveBlob(KeyActivityStats, stats)
}

// AddNotificationRecord appends a dispatch log entry.
func (s *PostgresStore) AddNotificationRecord(r models.NotificationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO notification_log (moment_id, channel, status, time) VALUES ($1, $2, $3, $4)`,
		r.MomentID, r.Channel, r.Status, r.Time,
	)
	if err != nil {
		slog.Error("PostgresStore AddNotificationRecord failed", "error", err, "moment_id", r.MomentID)
		return fmt.Errorf("failed to insert notification record for %s: %w", r.MomentID, err)
	}
	return nil
}

// GetNotificationRecords returns the dispatch log, oldest first.
func (s *PostgresStore) GetNotificationRecords() ([]models.NotificationRecord, error) {
	rows, err := s.db.Query(`SELECT moment_id, channel, status, time FROM notification_log ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetNotificationRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query notification log: %w", err)
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		var r models.NotificationRecord
		if err := rows.Scan(&r.MomentID, &r.Channel, &r.Status, &r.Time); err != nil {
			slog.Error("PostgresStore GetNotificationRecords scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetNotificationRecords rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate notification records: %w", err)
	}
	return records, nil
}

// Reset deletes all persisted engine state.
func (s *PostgresStore) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM state_blobs`); err != nil {
		slog.Error("PostgresStore Reset state_blobs failed", "error", err)
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM notification_log`); err != nil {
		slog.Error("PostgresStore Reset notification_log failed", "error", err)
		return err
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
