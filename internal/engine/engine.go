// Package engine implements the moment generation and notification cycle.
//
// One Engine instance owns the notification history, seen history, activity
// stats, and the in-memory generation cache. A single mutex serializes full
// cycles so concurrent triggers (foreground timer, resume event, background
// wake) can never interleave the throttle check with cache mutation.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/activity"
	"github.com/BTreeMap/MomentPipe/internal/generator"
	"github.com/BTreeMap/MomentPipe/internal/models"
	"github.com/BTreeMap/MomentPipe/internal/notify"
	"github.com/BTreeMap/MomentPipe/internal/resolver"
	"github.com/BTreeMap/MomentPipe/internal/store"
	"github.com/BTreeMap/MomentPipe/internal/util"
)

// Engine timing and bookkeeping constants.
const (
	// GenerationInterval is the minimum time between full generation cycles.
	// Calls inside this window return the cached result untouched.
	GenerationInterval = 30 * time.Minute
	// NotificationCooldown is the minimum time between notifications for the
	// same moment id.
	NotificationCooldown = 4 * time.Hour
	// MinTimeToExpiry is the minimum remaining lifetime a moment needs to be
	// worth notifying about.
	MinTimeToExpiry = time.Hour
	// MaxSeenEntries caps the persisted seen-history size.
	MaxSeenEntries = 100
	// MaxNotificationEntries caps the persisted notification-history size.
	MaxNotificationEntries = 200
)

// Phraser optionally rewrites a moment's suggestion line before dispatch.
// Phrasing failures fall back to the static suggestion.
type Phraser interface {
	PolishSuggestion(ctx context.Context, title, suggestion string) (string, error)
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Store      store.Store
	Dispatcher notify.Dispatcher
	Generator  *generator.Generator
	Tracker    *activity.Tracker
	Phraser    Phraser
	Clock      func() time.Time
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithDispatcher sets the notification channel.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(o *Opts) { o.Dispatcher = d }
}

// WithGenerator sets the moment generator.
func WithGenerator(g *generator.Generator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithTracker sets the activity tracker.
func WithTracker(t *activity.Tracker) Option {
	return func(o *Opts) { o.Tracker = t }
}

// WithPhraser sets the optional GenAI suggestion phraser.
func WithPhraser(p Phraser) Option {
	return func(o *Opts) { o.Phraser = p }
}

// WithClock injects the time source. Tests use this to drive throttle and
// cooldown windows deterministically.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// Engine runs the generate/resolve/notify/persist cycle.
type Engine struct {
	mu         sync.Mutex
	store      store.Store
	dispatcher notify.Dispatcher
	generator  *generator.Generator
	tracker    *activity.Tracker
	phraser    Phraser
	now        func() time.Time

	lastGeneration time.Time
	cachedMoments  []models.Moment
}

// New creates an Engine. Without options it runs fully in memory with the
// log dispatcher, which is the configuration tests use.
func New(opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = notify.NewLogDispatcher()
	}
	if cfg.Generator == nil {
		cfg.Generator = generator.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Tracker == nil {
		cfg.Tracker = activity.NewTracker(nil, cfg.Clock())
	}
	return &Engine{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		generator:  cfg.Generator,
		tracker:    cfg.Tracker,
		phraser:    cfg.Phraser,
		now:        cfg.Clock,
	}
}

// GenerateAndNotify runs one full cycle: throttle check, generation,
// resolution, gatekept notification, and persistence. It never returns an
// error; every internal failure degrades to defaults and the result is
// always well-formed.
func (e *Engine) GenerateAndNotify(ctx context.Context, info models.DeviceInfo, caps models.DeviceCapabilities, runtime models.RuntimeSignals) models.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	// Throttled: serve the cache without touching persistence.
	if !e.lastGeneration.IsZero() && now.Sub(e.lastGeneration) < GenerationInterval {
		slog.Debug("Engine cycle throttled", "last_generation", e.lastGeneration, "now", now)
		return models.Result{Moments: copyMoments(e.cachedMoments)}
	}

	cycleID := util.GenerateCycleID()
	slog.Debug("Engine cycle starting", "cycle", cycleID, "now", now)

	// Generating: reload persisted state. The background trigger may run in a
	// fresh process, so in-memory state is never trusted here.
	notifHistory := e.loadNotificationHistory()
	seenHistory := e.loadSeenHistory()
	stats := e.loadActivityStats(now)

	snap := models.Snapshot{Info: info, Capabilities: caps, Runtime: runtime}
	candidates := e.generator.Generate(snap, stats, now)
	resolved := resolver.Resolve(candidates)

	// Cache only after generation and resolution succeed.
	e.cachedMoments = copyMoments(resolved)
	e.lastGeneration = now

	// Notifying: rank order, strictly sequential. Later candidates' cooldown
	// decisions depend on history written by earlier ones.
	sent := 0
	for i := range resolved {
		m := resolved[i]
		if !isNotificationCandidate(m, now, notifHistory) {
			continue
		}
		m.Suggestion = e.polish(ctx, m)

		if err := e.dispatcher.SendNotification(ctx, m); err != nil {
			slog.Warn("Engine dispatch failed", "cycle", cycleID, "moment_id", m.ID, "error", err)
			e.logDispatch(m.ID, models.NotificationStatusFailed, now)
			continue
		}

		// Record the cooldown before looking at the next candidate so a
		// duplicate id in the same cycle cannot double-fire.
		notifHistory[m.ID] = now.UnixMilli()
		models.TrimOldest(notifHistory, MaxNotificationEntries)
		if err := e.store.SaveNotificationHistory(notifHistory); err != nil {
			slog.Warn("Engine failed to persist notification history", "cycle", cycleID, "error", err)
		}
		e.logDispatch(m.ID, models.NotificationStatusSent, now)
		sent++
	}

	// Persisting: seen timestamps for every surfaced moment plus activity stats.
	for _, m := range resolved {
		if _, ok := seenHistory[m.ID]; !ok {
			seenHistory[m.ID] = now.UnixMilli()
		}
	}
	models.TrimOldest(seenHistory, MaxSeenEntries)
	if err := e.store.SaveSeenHistory(seenHistory); err != nil {
		slog.Warn("Engine failed to persist seen history", "cycle", cycleID, "error", err)
	}
	if err := e.store.SaveActivityStats(e.tracker.Stats()); err != nil {
		slog.Warn("Engine failed to persist activity stats", "cycle", cycleID, "error", err)
	}

	slog.Info("Engine cycle complete", "cycle", cycleID, "moments", len(resolved), "notifications_sent", sent)
	return models.Result{Moments: copyMoments(resolved), NewNotificationsSent: sent}
}

// GetRecentMoments returns the last generated moment list without running a
// new cycle.
func (e *Engine) GetRecentMoments() []models.Moment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyMoments(e.cachedMoments)
}

// LastGenerationTime returns when the last non-throttled cycle ran, or the
// zero time before the first cycle.
func (e *Engine) LastGenerationTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGeneration
}

// ClearCache resets all in-memory state and durable engine state. Used for
// logout flows and tests.
func (e *Engine) ClearCache(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cachedMoments = nil
	e.lastGeneration = time.Time{}
	e.tracker.Reset(e.now())
	if err := e.store.Reset(); err != nil {
		slog.Warn("Engine failed to reset durable state", "error", err)
	}
	slog.Info("Engine cache cleared")
}

// RecordActivitySample folds an externally observed step sample into the
// activity stats and persists them.
func (e *Engine) RecordActivitySample(hour, steps int) {
	now := e.now()
	e.tracker.Record(hour, steps, now)
	if err := e.store.SaveActivityStats(e.tracker.Stats()); err != nil {
		slog.Warn("Engine failed to persist activity stats", "error", err)
	}
}

// ActivityStats returns a copy of the current activity stats.
func (e *Engine) ActivityStats() models.ActivityStats {
	return e.tracker.Stats()
}

func (e *Engine) loadNotificationHistory() models.NotificationHistory {
	h, err := e.store.LoadNotificationHistory()
	if err != nil || h == nil {
		if err != nil {
			slog.Warn("Engine falling back to empty notification history", "error", err)
		}
		return make(models.NotificationHistory)
	}
	return h
}

func (e *Engine) loadSeenHistory() models.SeenHistory {
	h, err := e.store.LoadSeenHistory()
	if err != nil || h == nil {
		if err != nil {
			slog.Warn("Engine falling back to empty seen history", "error", err)
		}
		return make(models.SeenHistory)
	}
	return h
}

func (e *Engine) loadActivityStats(now time.Time) models.ActivityStats {
	stats, err := e.store.LoadActivityStats()
	if err != nil {
		slog.Warn("Engine falling back to empty activity stats", "error", err)
		stats = nil
	}
	e.tracker.Restore(stats, now)
	e.tracker.Sample(now)
	return e.tracker.Stats()
}

// polish runs the optional GenAI phraser over the suggestion line.
func (e *Engine) polish(ctx context.Context, m models.Moment) string {
	if e.phraser == nil || m.Suggestion == "" {
		return m.Suggestion
	}
	polished, err := e.phraser.PolishSuggestion(ctx, m.Title, m.Suggestion)
	if err != nil || polished == "" {
		slog.Debug("Engine suggestion phrasing unavailable, using static text", "moment_id", m.ID, "error", err)
		return m.Suggestion
	}
	return polished
}

func (e *Engine) logDispatch(momentID string, status models.NotificationStatus, now time.Time) {
	record := models.NotificationRecord{
		MomentID: momentID,
		Channel:  e.dispatcher.Channel(),
		Status:   status,
		Time:     now.UnixMilli(),
	}
	if err := e.store.AddNotificationRecord(record); err != nil {
		slog.Warn("Engine failed to log dispatch", "moment_id", momentID, "error", err)
	}
}

func copyMoments(moments []models.Moment) []models.Moment {
	if len(moments) == 0 {
		return []models.Moment{}
	}
	out := make([]models.Moment, len(moments))
	copy(out, moments)
	return out
}
