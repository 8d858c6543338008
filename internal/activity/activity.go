// Package activity tracks per-hour movement data feeding the generator's
// activity rules.
//
// Real pedometer access is platform-specific, so sampling sits behind the
// SignalProvider interface with a simulated implementation for devices
// without hardware access and a deterministic double for tests.
package activity

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/models"
)

// MinStepsForActiveHour is the step count above which an hour counts as active.
const MinStepsForActiveHour = 50

// SignalProvider supplies a step-count sample for the current hour.
type SignalProvider interface {
	// Sample returns the step count observed since the last sample.
	Sample(now time.Time) (int, error)
}

// SimulatedProvider fabricates plausible step counts when no pedometer is
// available. The formula is placeholder data, not a contract.
type SimulatedProvider struct {
	rng *rand.Rand
}

// NewSimulatedProvider creates a simulated step source with the given seed.
func NewSimulatedProvider(seed uint64) *SimulatedProvider {
	return &SimulatedProvider{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Sample returns a fabricated step count, lower at night, higher mid-day.
func (p *SimulatedProvider) Sample(now time.Time) (int, error) {
	h := now.Hour()
	base := 0
	switch {
	case h >= 7 && h < 10:
		base = 400
	case h >= 10 && h < 20:
		base = 250
	case h >= 20 && h < 23:
		base = 100
	}
	if base == 0 {
		return 0, nil
	}
	return base + p.rng.IntN(base), nil
}

// StaticProvider returns a fixed step count on every sample. Used in tests.
type StaticProvider struct {
	Steps int
}

// Sample returns the fixed step count.
func (p StaticProvider) Sample(now time.Time) (int, error) {
	return p.Steps, nil
}

// Tracker accumulates activity stats from provider samples. The moment engine
// owns one tracker, loads its state from the store at the start of a cycle,
// and persists it afterwards.
type Tracker struct {
	mu       sync.Mutex
	stats    models.ActivityStats
	provider SignalProvider
}

// NewTracker creates a Tracker seeded with empty stats.
func NewTracker(provider SignalProvider, now time.Time) *Tracker {
	return &Tracker{
		stats:    models.NewActivityStats(now),
		provider: provider,
	}
}

// Restore replaces the tracker state with persisted stats, discarding them
// when stale so a day-old snapshot never drives nudges.
func (t *Tracker) Restore(stats *models.ActivityStats, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stats == nil || stats.IsStale(now) {
		if stats != nil {
			slog.Debug("Discarding stale activity stats", "saved_at", stats.SavedAt)
		}
		t.stats = models.NewActivityStats(now)
		return
	}
	t.stats = *stats
}

// Sample pulls one reading from the provider and folds it into the stats.
// Provider failures leave the stats untouched.
func (t *Tracker) Sample(now time.Time) {
	if t.provider == nil {
		return
	}
	steps, err := t.provider.Sample(now)
	if err != nil {
		slog.Warn("Activity sample failed", "error", err)
		return
	}
	t.Record(now.Hour(), steps, now)
}

// Record folds a step count for the given hour into the stats.
func (t *Tracker) Record(hour, steps int, now time.Time) {
	if hour < 0 || hour > 23 || steps < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.HourlySteps[hour] += steps
	if t.stats.HourlySteps[hour] >= MinStepsForActiveHour {
		t.stats.LastActiveHour = hour
		t.stats.InactiveHours = 0
	} else if t.stats.LastActiveHour >= 0 && hour != t.stats.LastActiveHour {
		gap := hour - t.stats.LastActiveHour
		if gap < 0 {
			gap += 24
		}
		t.stats.InactiveHours = gap
	}

	best, bestSteps := -1, 0
	for h, s := range t.stats.HourlySteps {
		if s > bestSteps {
			best, bestSteps = h, s
		}
	}
	t.stats.BestActivityHour = best
	t.stats.SavedAt = now.UnixMilli()
}

// Stats returns a copy of the current stats.
func (t *Tracker) Stats() models.ActivityStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Reset clears the tracker back to empty stats.
func (t *Tracker) Reset(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = models.NewActivityStats(now)
}
