// Package generator produces candidate moments from a device snapshot.
//
// Each rule is an independent predicate over time of day, battery, storage,
// capability tiers, sensors, and tracked activity. Rules are evaluated
// unconditionally every cycle and each emits at most one moment. A panicking
// rule is isolated so it cannot take down the rest of the cycle.
package generator

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/models"
	"github.com/BTreeMap/MomentPipe/internal/util"
)

// Rule thresholds. Priorities follow models: 5 critical, 4 high, 3 low.
const (
	// BatteryLowThreshold is the battery fraction below which the low-battery rule fires.
	BatteryLowThreshold = 0.20
	// BatteryFullThreshold is the battery fraction at or above which the full-battery rule fires.
	BatteryFullThreshold = 0.95
	// StorageCriticalThreshold is the free-storage fraction below which storage is critical.
	StorageCriticalThreshold = 0.10
	// StorageWarningThreshold is the free-storage fraction below which storage warns.
	StorageWarningThreshold = 0.30
	// HighRefreshRateHz is the display refresh rate worth calling out.
	HighRefreshRateHz = 120
	// MinSensorsForCallout is the active sensor count worth calling out.
	MinSensorsForCallout = 3
	// MinGamingTierForWeekend is the gaming tier required for the weekend callout.
	MinGamingTierForWeekend = 4
	// MinInactiveHoursForNudge is the consecutive-inactive-hour count that triggers a nudge.
	MinInactiveHoursForNudge = 3
)

// Input bundles everything a rule may look at for one cycle.
type Input struct {
	Snapshot models.Snapshot
	Stats    models.ActivityStats
	Now      time.Time
	Pick     func(n int) int
}

// ruleFunc evaluates one rule. Returns nil when the rule does not apply.
type ruleFunc func(in Input) *models.Moment

// Generator evaluates the full rule set over a snapshot.
type Generator struct {
	pick func(n int) int
}

// Opts holds configuration options for the Generator.
type Opts struct {
	Pick func(n int) int
}

// Option defines a configuration option for the Generator.
type Option func(*Opts)

// WithPhrasePicker injects the randomness source used only for phrasing
// variety. Phrasing never affects moment ids, priorities, or eligibility.
func WithPhrasePicker(pick func(n int) int) Option {
	return func(o *Opts) { o.Pick = pick }
}

// New creates a Generator. Without options it uses math/rand/v2 for phrasing.
func New(opts ...Option) *Generator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.IntN
	}
	return &Generator{pick: cfg.Pick}
}

// rules is the fixed rule set, evaluated in order every cycle.
var rules = []struct {
	id   string
	eval ruleFunc
}{
	{"morning-energy", morningEnergyRule},
	{"commute-window", commuteWindowRule},
	{"productivity-window", productivityWindowRule},
	{"evening-winddown", eveningWinddownRule},
	{"battery-low", batteryLowRule},
	{"battery-full", batteryFullRule},
	{"storage-critical", storageCriticalRule},
	{"storage-warning", storageWarningRule},
	{"display-smooth", displaySmoothRule},
	{"sensor-suite", sensorSuiteRule},
	{"weekend-gaming", weekendGamingRule},
	{"inactivity-nudge", inactivityNudgeRule},
	{"best-activity-hour", bestActivityHourRule},
}

// Generate evaluates every rule against the snapshot at the given time.
// It is pure apart from the injected phrasing randomness.
func (g *Generator) Generate(snap models.Snapshot, stats models.ActivityStats, now time.Time) []models.Moment {
	in := Input{Snapshot: snap, Stats: stats, Now: now, Pick: g.pick}

	var moments []models.Moment
	for _, r := range rules {
		m := safeEval(r.id, r.eval, in)
		if m == nil {
			continue
		}
		if err := m.Validate(); err != nil {
			slog.Warn("Generator produced invalid moment, dropping", "rule", r.id, "error", err)
			continue
		}
		moments = append(moments, *m)
	}
	slog.Debug("Generator produced candidates", "count", len(moments))
	return moments
}

// safeEval runs one rule and converts a panic into a nil contribution.
func safeEval(id string, eval ruleFunc, in Input) (m *models.Moment) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Generator rule panicked", "rule", id, "panic", r)
			m = nil
		}
	}()
	return eval(in)
}

// endOfDay returns 23:59:59.999 local of now's day as epoch millis.
func endOfDay(now time.Time) int64 {
	y, mo, d := now.Date()
	return time.Date(y, mo, d, 23, 59, 59, 999*int(time.Millisecond), now.Location()).UnixMilli()
}

func inHourWindow(now time.Time, from, to int) bool {
	h := now.Hour()
	return h >= from && h < to
}

func isWeekday(now time.Time) bool {
	wd := now.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func morningEnergyRule(in Input) *models.Moment {
	if !inHourWindow(in.Now, 6, 9) {
		return nil
	}
	return &models.Moment{
		ID:          "morning-energy",
		Emoji:       "🌅",
		Title:       "Fresh start",
		Description: "Battery and focus are usually at their best in the morning.",
		Priority:    models.PriorityLow,
		ExpiresAt:   in.Now.Add(3 * time.Hour).UnixMilli(),
		Category:    "context",
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Knock out the heavy tasks before noon.",
			"A good time to plan the day ahead.",
			"Start with the hardest thing on your list.",
		}),
	}
}

func commuteWindowRule(in Input) *models.Moment {
	if !isWeekday(in.Now) || !inHourWindow(in.Now, 7, 10) {
		return nil
	}
	return &models.Moment{
		ID:          "commute-window",
		Emoji:       "🚇",
		Title:       "Commute mode",
		Description: "Offline content and podcasts work well on the move.",
		Priority:    models.PriorityLow,
		ExpiresAt:   in.Now.Add(2 * time.Hour).UnixMilli(),
		Category:    "context",
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Download something to listen to before you leave.",
			"Queue up an episode for the ride.",
		}),
	}
}

func productivityWindowRule(in Input) *models.Moment {
	if !isWeekday(in.Now) || !inHourWindow(in.Now, 9, 12) {
		return nil
	}
	return &models.Moment{
		ID:          "productivity-window",
		Emoji:       "💼",
		Title:       "Deep work window",
		Description: "Late morning is a strong stretch for focused work.",
		Priority:    models.PriorityLow,
		ExpiresAt:   in.Now.Add(3 * time.Hour).UnixMilli(),
		Category:    "context",
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Silence non-essential notifications for an hour.",
			"Block out ninety minutes for one task.",
		}),
	}
}

func eveningWinddownRule(in Input) *models.Moment {
	if !inHourWindow(in.Now, 20, 23) {
		return nil
	}
	return &models.Moment{
		ID:          "evening-winddown",
		Emoji:       "🌙",
		Title:       "Wind down",
		Description: "Evening screen time adds up fast.",
		Priority:    models.PriorityLow,
		ExpiresAt:   endOfDay(in.Now),
		Category:    "context",
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Try a lower brightness for the rest of the night.",
			"Night mode is easier on the eyes after dark.",
		}),
	}
}

func batteryLowRule(in Input) *models.Moment {
	level := in.Snapshot.Runtime.BatteryLevel
	if level <= 0 || level >= BatteryLowThreshold {
		return nil
	}
	return &models.Moment{
		ID:             "battery-low",
		Emoji:          "🪫",
		Title:          "Battery running low",
		Description:    "Battery is under 20%. Charging soon avoids an unplanned shutdown.",
		Priority:       models.PriorityCritical,
		ExpiresAt:      in.Now.Add(3 * time.Hour).UnixMilli(),
		Category:       "battery",
		NotifyEligible: true,
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Plug in within the next hour if you can.",
			"Enable battery saver until you reach a charger.",
		}),
	}
}

func batteryFullRule(in Input) *models.Moment {
	if in.Snapshot.Runtime.BatteryLevel < BatteryFullThreshold {
		return nil
	}
	return &models.Moment{
		ID:          "battery-full",
		Emoji:       "🔋",
		Title:       "Fully charged",
		Description: "Battery is topped up and ready for a long session.",
		Priority:    models.PriorityLow,
		ExpiresAt:   in.Now.Add(time.Hour).UnixMilli(),
		Category:    "battery",
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Unplug to protect long-term battery health.",
			"Good time for anything power hungry.",
		}),
	}
}

func storageCriticalRule(in Input) *models.Moment {
	free := in.Snapshot.Runtime.StorageFreeFraction()
	if free >= StorageCriticalThreshold {
		return nil
	}
	return &models.Moment{
		ID:             "storage-critical",
		Emoji:          "🚨",
		Title:          "Storage almost full",
		Description:    "Less than 10% of storage is free. Apps and updates may start failing.",
		Priority:       models.PriorityCritical,
		ExpiresAt:      endOfDay(in.Now),
		Category:       "storage",
		NotifyEligible: true,
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Clear old downloads and large videos now.",
			"Offload unused apps to free space quickly.",
		}),
	}
}

func storageWarningRule(in Input) *models.Moment {
	free := in.Snapshot.Runtime.StorageFreeFraction()
	if free < StorageCriticalThreshold || free >= StorageWarningThreshold {
		return nil
	}
	return &models.Moment{
		ID:             "storage-warning",
		Emoji:          "📦",
		Title:          "Storage getting tight",
		Description:    "Less than 30% of storage remains free.",
		Priority:       models.PriorityHigh,
		ExpiresAt:      endOfDay(in.Now),
		Category:       "storage",
		NotifyEligible: true,
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Review what's taking space before it becomes urgent.",
			"Back up photos to the cloud and clear local copies.",
		}),
	}
}

func displaySmoothRule(in Input) *models.Moment {
	if in.Snapshot.Info.RefreshRateHz < HighRefreshRateHz {
		return nil
	}
	return &models.Moment{
		ID:          "display-smooth",
		Emoji:       "✨",
		Title:       "High refresh display",
		Description: "This screen runs at 120Hz or more. Scrolling and games look noticeably smoother.",
		Priority:    models.PriorityLow,
		ExpiresAt:   endOfDay(in.Now),
		Category:    "display",
	}
}

func sensorSuiteRule(in Input) *models.Moment {
	if in.Snapshot.Runtime.ActiveSensorCount < MinSensorsForCallout {
		return nil
	}
	return &models.Moment{
		ID:          "sensor-suite",
		Emoji:       "🧭",
		Title:       "Full sensor suite active",
		Description: "Three or more sensors are live. AR and fitness tracking will be accurate.",
		Priority:    models.PriorityLow,
		ExpiresAt:   endOfDay(in.Now),
		Category:    "sensors",
	}
}

func weekendGamingRule(in Input) *models.Moment {
	if isWeekday(in.Now) {
		return nil
	}
	if in.Snapshot.Capabilities.Gaming.Tier < MinGamingTierForWeekend {
		return nil
	}
	return &models.Moment{
		ID:             "weekend-gaming",
		Emoji:          "🎮",
		Title:          "Great time for gaming",
		Description:    "It's the weekend and this device games well.",
		Priority:       models.PriorityHigh,
		ExpiresAt:      in.Now.Add(3 * time.Hour).UnixMilli(),
		Category:       "gaming",
		NotifyEligible: true,
		Suggestion: util.PickPhrase(in.Pick, []string{
			"Your backlog isn't going to play itself.",
			"Graphics-heavy titles will run well right now.",
		}),
	}
}

func inactivityNudgeRule(in Input) *models.Moment {
	if in.Stats.InactiveHours < MinInactiveHoursForNudge {
		return nil
	}
	return &models.Moment{
		ID:             "inactivity-nudge",
		Emoji:          "🚶",
		Title:          "Time to move",
		Description:    "No movement registered for a few hours.",
		Priority:       models.PriorityHigh,
		ExpiresAt:      in.Now.Add(2 * time.Hour).UnixMilli(),
		Category:       "activity",
		NotifyEligible: true,
		Suggestion: util.PickPhrase(in.Pick, []string{
			"A five-minute walk resets the afternoon.",
			"Stand up and stretch for a couple of minutes.",
		}),
	}
}

func bestActivityHourRule(in Input) *models.Moment {
	best := in.Stats.BestActivityHour
	if best < 0 || best != in.Now.Hour() {
		return nil
	}
	return &models.Moment{
		ID:          "best-activity-hour",
		Emoji:       "⏰",
		Title:       "Your most active hour",
		Description: "This is usually when you move the most.",
		Priority:    models.PriorityLow,
		ExpiresAt:   in.Now.Add(time.Hour).UnixMilli(),
		Category:    "activity",
	}
}
