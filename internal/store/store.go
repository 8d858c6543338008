// Package store provides storage backends for MomentPipe.
//
// It persists the notification history, seen history, and activity stats as
// JSON blobs under stable namespaced keys, plus an append-only dispatch log.
// Backends: SQLite, PostgreSQL, and an in-memory store for tests.
package store

import (
	"strings"
	"sync"

	"github.com/BTreeMap/MomentPipe/internal/models"
)

// Namespaced keys for the persisted state blobs.
const (
	// KeyNotificationHistory stores the moment id -> last-notified blob.
	KeyNotificationHistory = "momentpipe.notification_history"
	// KeySeenHistory stores the moment id -> first-seen blob.
	KeySeenHistory = "momentpipe.seen_history"
	// KeyActivityStats stores the per-hour activity stats blob.
	KeyActivityStats = "momentpipe.activity_stats"
)

// Store defines the durable key-value substrate the moment engine persists
// its state through. The engine is the only writer; implementations need no
// concurrency control beyond surviving concurrent reads.
type Store interface {
	// LoadNotificationHistory returns the persisted cooldown map.
	// A missing blob yields an empty, non-nil map.
	LoadNotificationHistory() (models.NotificationHistory, error)

	// SaveNotificationHistory overwrites the persisted cooldown map.
	SaveNotificationHistory(h models.NotificationHistory) error

	// LoadSeenHistory returns the persisted seen map.
	// A missing blob yields an empty, non-nil map.
	LoadSeenHistory() (models.SeenHistory, error)

	// SaveSeenHistory overwrites the persisted seen map.
	SaveSeenHistory(h models.SeenHistory) error

	// LoadActivityStats returns the persisted activity stats, or nil when absent.
	LoadActivityStats() (*models.ActivityStats, error)

	// SaveActivityStats overwrites the persisted activity stats.
	SaveActivityStats(stats models.ActivityStats) error

	// AddNotificationRecord appends a dispatch log entry.
	AddNotificationRecord(r models.NotificationRecord) error

	// GetNotificationRecords returns the dispatch log, oldest first.
	GetNotificationRecords() ([]models.NotificationRecord, error)

	// Reset deletes all persisted engine state. Used by cache-clear and tests.
	Reset() error

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports the database driver implied by a DSN: "postgres" for
// PostgreSQL connection strings, "sqlite3" for anything that looks like a
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore is a non-durable Store used in tests and when no DSN is
// configured. State vanishes with the process, which the engine tolerates.
type InMemoryStore struct {
	mu            sync.RWMutex
	notifications models.NotificationHistory
	seen          models.SeenHistory
	activity      *models.ActivityStats
	records       []models.NotificationRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		notifications: make(models.NotificationHistory),
		seen:          make(models.SeenHistory),
	}
}

// LoadNotificationHistory returns a copy of the cooldown map.
func (s *InMemoryStore) LoadNotificationHistory() (models.NotificationHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyHistory(s.notifications), nil
}

// SaveNotificationHistory overwrites the cooldown map.
func (s *InMemoryStore) SaveNotificationHistory(h models.NotificationHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = copyHistory(h)
	return nil
}

// LoadSeenHistory returns a copy of the seen map.
func (s *InMemoryStore) LoadSeenHistory() (models.SeenHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyHistory(s.seen), nil
}

// SaveSeenHistory overwrites the seen map.
func (s *InMemoryStore) SaveSeenHistory(h models.SeenHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = copyHistory(h)
	return nil
}

// LoadActivityStats returns the stored stats, or nil when never saved.
func (s *InMemoryStore) LoadActivityStats() (*models.ActivityStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activity == nil {
		return nil, nil
	}
	stats := *s.activity
	return &stats, nil
}

// SaveActivityStats overwrites the stored stats.
func (s *InMemoryStore) SaveActivityStats(stats models.ActivityStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = &stats
	return nil
}

// AddNotificationRecord appends a dispatch log entry.
func (s *InMemoryStore) AddNotificationRecord(r models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// GetNotificationRecords returns the dispatch log, oldest first.
func (s *InMemoryStore) GetNotificationRecords() ([]models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]models.NotificationRecord, len(s.records))
	copy(records, s.records)
	return records, nil
}

// Reset deletes all state.
func (s *InMemoryStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = make(models.NotificationHistory)
	s.seen = make(models.SeenHistory)
	s.activity = nil
	s.records = nil
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func copyHistory(h map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
