// Package models defines the core data structures for MomentPipe.
//
// It includes types for moments, device snapshots, and the persisted
// notification/seen/activity state shared across modules.
package models

import (
	"errors"
	"sort"
	"time"
)

// Moment priority levels. Five is reserved for critical conditions
// (battery nearly empty, storage nearly full).
const (
	// PriorityLow is informational context with no notification value.
	PriorityLow = 3
	// PriorityHigh marks moments important enough to page the user.
	PriorityHigh = 4
	// PriorityCritical marks urgent conditions that suppress low-priority noise.
	PriorityCritical = 5
)

// Validation constants for moment payloads.
const (
	// MaxTitleLength defines the maximum allowed length for a moment title.
	MaxTitleLength = 120
	// MaxDescriptionLength defines the maximum allowed length for a moment description.
	MaxDescriptionLength = 1000
)

// Error variables for better error handling and testability
var (
	ErrEmptyMomentID      = errors.New("moment id cannot be empty")
	ErrEmptyTitle         = errors.New("moment title cannot be empty")
	ErrTitleTooLong       = errors.New("moment title exceeds maximum length")
	ErrDescriptionTooLong = errors.New("moment description exceeds maximum length")
	ErrInvalidPriority    = errors.New("moment priority must be between 3 and 5")
	ErrInvalidExpiry      = errors.New("moment expiry must be a positive epoch timestamp")
)

// Moment represents a candidate contextual suggestion produced by the generator.
// The ID identifies the rule that produced it, not the instance: the same rule
// yields the same ID every cycle, which is what cooldown and seen tracking key on.
type Moment struct {
	ID             string `json:"id"`
	Emoji          string `json:"emoji,omitempty"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Priority       int    `json:"priority"`
	ExpiresAt      int64  `json:"expires_at"` // epoch millis
	Category       string `json:"category,omitempty"`
	NotifyEligible bool   `json:"notify_eligible"`
	Suggestion     string `json:"suggestion,omitempty"`
}

// Validate performs validation on a Moment structure.
func (m *Moment) Validate() error {
	if m.ID == "" {
		return ErrEmptyMomentID
	}
	if m.Title == "" {
		return ErrEmptyTitle
	}
	if len(m.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if len(m.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if m.Priority < PriorityLow || m.Priority > PriorityCritical {
		return ErrInvalidPriority
	}
	if m.ExpiresAt <= 0 {
		return ErrInvalidExpiry
	}
	return nil
}

// Expiry returns the moment's expiry as a time.Time.
func (m *Moment) Expiry() time.Time {
	return time.UnixMilli(m.ExpiresAt)
}

// DeviceInfo is a static-ish hardware descriptor supplied by the device agent.
// The engine never mutates it.
type DeviceInfo struct {
	Model         string  `json:"model,omitempty"`
	RefreshRateHz float64 `json:"refresh_rate_hz"`
	ScreenWidth   int     `json:"screen_width,omitempty"`
	ScreenHeight  int     `json:"screen_height,omitempty"`
}

// CapabilityScore is a derived tier/score/confidence bundle for one dimension.
type CapabilityScore struct {
	Tier       int     `json:"tier"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// DeviceCapabilities bundles the scored capability dimensions produced by the
// external scoring collaborator. Read-only input to the moment generator.
type DeviceCapabilities struct {
	Performance CapabilityScore `json:"performance"`
	Gaming      CapabilityScore `json:"gaming"`
	Battery     CapabilityScore `json:"battery"`
	Storage     CapabilityScore `json:"storage"`
	Sensors     CapabilityScore `json:"sensors"`
	DailyUsage  CapabilityScore `json:"daily_usage"`
}

// RuntimeSignals carries live device values, refreshed by the caller before
// each generation cycle.
type RuntimeSignals struct {
	BatteryLevel      float64 `json:"battery_level"` // 0..1
	StorageFreeBytes  int64   `json:"storage_free_bytes"`
	StorageTotalBytes int64   `json:"storage_total_bytes"`
	StorageUsedBytes  int64   `json:"storage_used_bytes"`
	HasGyroscope      bool    `json:"has_gyroscope"`
	ActiveSensorCount int     `json:"active_sensor_count"`
}

// StorageFreeFraction returns free storage as a fraction of total, or 1.0 when
// the total is unknown so storage rules stay quiet on bad input.
func (r RuntimeSignals) StorageFreeFraction() float64 {
	if r.StorageTotalBytes <= 0 {
		return 1.0
	}
	return float64(r.StorageFreeBytes) / float64(r.StorageTotalBytes)
}

// Snapshot groups the three read-only inputs to a generation cycle.
type Snapshot struct {
	Info         DeviceInfo         `json:"info"`
	Capabilities DeviceCapabilities `json:"capabilities"`
	Runtime      RuntimeSignals     `json:"runtime"`
}

// NotificationHistory maps moment id to last-notified epoch millis.
type NotificationHistory map[string]int64

// SeenHistory maps moment id to first-seen epoch millis within the current
// exposure window.
type SeenHistory map[string]int64

// TrimOldest evicts the oldest entries until at most max remain.
// Used to cap storage growth of the persisted history blobs.
func TrimOldest(h map[string]int64, max int) {
	if max <= 0 || len(h) <= max {
		return
	}
	type entry struct {
		id string
		ts int64
	}
	entries := make([]entry, 0, len(h))
	for id, ts := range h {
		entries = append(entries, entry{id, ts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts == entries[j].ts {
			return entries[i].id < entries[j].id
		}
		return entries[i].ts < entries[j].ts
	})
	for i := 0; i < len(entries)-max; i++ {
		delete(h, entries[i].id)
	}
}

// ActivityStatsMaxAge is how long persisted activity stats remain usable.
const ActivityStatsMaxAge = 24 * time.Hour

// ActivityStats tracks per-hour movement data feeding the activity rules.
type ActivityStats struct {
	HourlySteps      [24]int `json:"hourly_steps"`
	LastActiveHour   int     `json:"last_active_hour"`
	InactiveHours    int     `json:"inactive_hours"`
	BestActivityHour int     `json:"best_activity_hour"`
	SavedAt          int64   `json:"saved_at"` // epoch millis
}

// NewActivityStats returns an empty stats structure stamped at now.
func NewActivityStats(now time.Time) ActivityStats {
	return ActivityStats{LastActiveHour: -1, BestActivityHour: -1, SavedAt: now.UnixMilli()}
}

// IsStale reports whether the stats were saved more than ActivityStatsMaxAge ago.
func (a *ActivityStats) IsStale(now time.Time) bool {
	if a.SavedAt <= 0 {
		return true
	}
	return now.Sub(time.UnixMilli(a.SavedAt)) > ActivityStatsMaxAge
}

// Result is the outcome of one generation/notification cycle.
type Result struct {
	Moments              []Moment `json:"moments"`
	NewNotificationsSent int      `json:"new_notifications_sent"`
}

// NotificationStatus represents the outcome of a notification dispatch.
type NotificationStatus string

const (
	// NotificationStatusSent indicates the notification was dispatched.
	NotificationStatusSent NotificationStatus = "sent"
	// NotificationStatusFailed indicates the dispatch failed.
	NotificationStatusFailed NotificationStatus = "failed"
)

// NotificationRecord is a dispatch log entry kept by the store.
type NotificationRecord struct {
	MomentID string             `json:"moment_id"`
	Channel  string             `json:"channel"`
	Status   NotificationStatus `json:"status"`
	Time     int64              `json:"time"` // epoch millis
}
