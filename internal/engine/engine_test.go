package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/generator"
	"github.com/BTreeMap/MomentPipe/internal/models"
	"github.com/BTreeMap/MomentPipe/internal/store"
)

// testClock is an adjustable time source for driving throttle and cooldown windows.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingDispatcher captures dispatched moments and can refuse specific ids.
type recordingDispatcher struct {
	mu      sync.Mutex
	sent    []models.Moment
	failIDs map[string]bool
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{failIDs: make(map[string]bool)}
}

func (d *recordingDispatcher) SendNotification(ctx context.Context, m models.Moment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIDs[m.ID] {
		return fmt.Errorf("dispatch refused for %s", m.ID)
	}
	d.sent = append(d.sent, m)
	return nil
}

func (d *recordingDispatcher) Channel() string { return "fake" }

func (d *recordingDispatcher) sentIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sent))
	for _, m := range d.sent {
		ids = append(ids, m.ID)
	}
	return ids
}

func (d *recordingDispatcher) failFor(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failIDs[id] = true
}

func (d *recordingDispatcher) allow(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failIDs, id)
}

// Saturday 19:00 UTC. Outside every time-of-day rule window.
var cycleStart = time.Date(2026, time.March, 7, 19, 0, 0, 0, time.UTC)

func quietSnapshot() models.Snapshot {
	return models.Snapshot{
		Info: models.DeviceInfo{Model: "test-device", RefreshRateHz: 60},
		Runtime: models.RuntimeSignals{
			BatteryLevel:      0.55,
			StorageFreeBytes:  50,
			StorageTotalBytes: 100,
			ActiveSensorCount: 1,
		},
	}
}

func lowBatterySnapshot() models.Snapshot {
	snap := quietSnapshot()
	snap.Runtime.BatteryLevel = 0.15
	return snap
}

func newTestEngine(clock *testClock, d *recordingDispatcher, st store.Store) *Engine {
	return New(
		WithClock(clock.Now),
		WithDispatcher(d),
		WithStore(st),
		WithGenerator(generator.New(generator.WithPhrasePicker(func(n int) int { return 0 }))),
	)
}

func runCycle(t *testing.T, e *Engine, snap models.Snapshot) models.Result {
	t.Helper()
	return e.GenerateAndNotify(context.Background(), snap.Info, snap.Capabilities, snap.Runtime)
}

func TestCycleGeneratesAndNotifies(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	st := store.NewInMemoryStore()
	e := newTestEngine(clock, dispatcher, st)

	result := runCycle(t, e, lowBatterySnapshot())

	if len(result.Moments) != 1 || result.Moments[0].ID != "battery-low" {
		t.Fatalf("expected only battery-low, got %+v", result.Moments)
	}
	if result.NewNotificationsSent != 1 {
		t.Errorf("expected 1 notification sent, got %d", result.NewNotificationsSent)
	}
	if ids := dispatcher.sentIDs(); len(ids) != 1 || ids[0] != "battery-low" {
		t.Errorf("expected battery-low dispatched, got %v", ids)
	}

	history, err := st.LoadNotificationHistory()
	if err != nil {
		t.Fatalf("failed to load notification history: %v", err)
	}
	if history["battery-low"] != cycleStart.UnixMilli() {
		t.Errorf("expected cooldown stamp %d, got %d", cycleStart.UnixMilli(), history["battery-low"])
	}

	records, err := st.GetNotificationRecords()
	if err != nil {
		t.Fatalf("failed to load dispatch log: %v", err)
	}
	if len(records) != 1 || records[0].Status != models.NotificationStatusSent || records[0].Channel != "fake" {
		t.Errorf("unexpected dispatch log: %+v", records)
	}
}

func TestThrottledCycleServesCache(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	st := store.NewInMemoryStore()
	e := newTestEngine(clock, dispatcher, st)

	first := runCycle(t, e, lowBatterySnapshot())
	if first.NewNotificationsSent != 1 {
		t.Fatalf("expected first cycle to notify, got %d", first.NewNotificationsSent)
	}

	clock.Advance(29 * time.Minute)
	// A different snapshot inside the throttle window must not regenerate.
	second := runCycle(t, e, quietSnapshot())

	if second.NewNotificationsSent != 0 {
		t.Errorf("throttled cycle must not notify, got %d", second.NewNotificationsSent)
	}
	if len(second.Moments) != 1 || second.Moments[0].ID != "battery-low" {
		t.Errorf("throttled cycle must serve the cached moments, got %+v", second.Moments)
	}
	if got := e.LastGenerationTime(); !got.Equal(cycleStart) {
		t.Errorf("throttled cycle must not advance the generation time, got %v", got)
	}
}

func TestCooldownBlocksRepeatNotification(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	st := store.NewInMemoryStore()
	e := newTestEngine(clock, dispatcher, st)

	runCycle(t, e, lowBatterySnapshot())

	// Past the throttle but inside the 4h cooldown: regenerate, don't re-notify.
	clock.Advance(31 * time.Minute)
	second := runCycle(t, e, lowBatterySnapshot())
	if second.NewNotificationsSent != 0 {
		t.Errorf("cooldown must block the repeat notification, got %d sent", second.NewNotificationsSent)
	}
	if len(second.Moments) != 1 || second.Moments[0].ID != "battery-low" {
		t.Errorf("moment must still be generated during cooldown, got %+v", second.Moments)
	}

	// Past the cooldown the same id may notify again.
	clock.Advance(4 * time.Hour)
	third := runCycle(t, e, lowBatterySnapshot())
	if third.NewNotificationsSent != 1 {
		t.Errorf("expected re-notification after cooldown, got %d", third.NewNotificationsSent)
	}
	if ids := dispatcher.sentIDs(); len(ids) != 2 {
		t.Errorf("expected two dispatches total, got %v", ids)
	}
}

func TestFailedDispatchDoesNotStartCooldown(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	st := store.NewInMemoryStore()
	e := newTestEngine(clock, dispatcher, st)

	dispatcher.failFor("battery-low")
	first := runCycle(t, e, lowBatterySnapshot())
	if first.NewNotificationsSent != 0 {
		t.Fatalf("expected no notifications on dispatch failure, got %d", first.NewNotificationsSent)
	}

	history, err := st.LoadNotificationHistory()
	if err != nil {
		t.Fatalf("failed to load notification history: %v", err)
	}
	if _, ok := history["battery-low"]; ok {
		t.Error("failed dispatch must not record a cooldown")
	}

	records, err := st.GetNotificationRecords()
	if err != nil {
		t.Fatalf("failed to load dispatch log: %v", err)
	}
	if len(records) != 1 || records[0].Status != models.NotificationStatusFailed {
		t.Errorf("expected one failed record, got %+v", records)
	}

	// The next cycle may retry because no cooldown was recorded.
	dispatcher.allow("battery-low")
	clock.Advance(31 * time.Minute)
	second := runCycle(t, e, lowBatterySnapshot())
	if second.NewNotificationsSent != 1 {
		t.Errorf("expected retry to succeed, got %d sent", second.NewNotificationsSent)
	}
}

func TestSeenHistoryKeepsFirstSeenStamp(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	st := store.NewInMemoryStore()
	e := newTestEngine(clock, dispatcher, st)

	runCycle(t, e, lowBatterySnapshot())
	clock.Advance(31 * time.Minute)
	runCycle(t, e, lowBatterySnapshot())

	seen, err := st.LoadSeenHistory()
	if err != nil {
		t.Fatalf("failed to load seen history: %v", err)
	}
	if seen["battery-low"] != cycleStart.UnixMilli() {
		t.Errorf("seen stamp must stay at first exposure, got %d", seen["battery-low"])
	}
}

func TestCooldownSurvivesRestart(t *testing.T) {
	clock := newTestClock(cycleStart)
	st := store.NewInMemoryStore()

	first := newTestEngine(clock, newRecordingDispatcher(), st)
	runCycle(t, first, lowBatterySnapshot())

	// Fresh engine over the same store, inside the cooldown window.
	clock.Advance(time.Hour)
	dispatcher := newRecordingDispatcher()
	second := newTestEngine(clock, dispatcher, st)
	result := runCycle(t, second, lowBatterySnapshot())

	if result.NewNotificationsSent != 0 {
		t.Errorf("persisted cooldown must hold across engine restarts, got %d sent", result.NewNotificationsSent)
	}
	if len(dispatcher.sentIDs()) != 0 {
		t.Errorf("expected no dispatches after restart, got %v", dispatcher.sentIDs())
	}
}

func TestGetRecentMomentsWithoutCycle(t *testing.T) {
	clock := newTestClock(cycleStart)
	e := newTestEngine(clock, newRecordingDispatcher(), store.NewInMemoryStore())

	if got := e.GetRecentMoments(); len(got) != 0 {
		t.Errorf("expected empty moments before first cycle, got %+v", got)
	}

	runCycle(t, e, lowBatterySnapshot())
	got := e.GetRecentMoments()
	if len(got) != 1 || got[0].ID != "battery-low" {
		t.Errorf("expected cached battery-low moment, got %+v", got)
	}

	// Mutating the returned slice must not leak into the cache.
	got[0].ID = "mutated"
	if again := e.GetRecentMoments(); again[0].ID != "battery-low" {
		t.Error("cache must be isolated from returned slices")
	}
}

func TestClearCacheResetsState(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	st := store.NewInMemoryStore()
	e := newTestEngine(clock, dispatcher, st)

	runCycle(t, e, lowBatterySnapshot())
	e.ClearCache(context.Background())

	if got := e.GetRecentMoments(); len(got) != 0 {
		t.Errorf("expected empty cache after clear, got %+v", got)
	}
	if !e.LastGenerationTime().IsZero() {
		t.Error("expected zero generation time after clear")
	}

	history, err := st.LoadNotificationHistory()
	if err != nil {
		t.Fatalf("failed to load notification history: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected durable state cleared, got %+v", history)
	}

	// With the cooldown gone the very next cycle notifies again.
	result := runCycle(t, e, lowBatterySnapshot())
	if result.NewNotificationsSent != 1 {
		t.Errorf("expected notification after reset, got %d", result.NewNotificationsSent)
	}
}

func TestRecordActivitySamplePersists(t *testing.T) {
	clock := newTestClock(cycleStart)
	st := store.NewInMemoryStore()
	e := newTestEngine(clock, newRecordingDispatcher(), st)

	e.RecordActivitySample(10, 600)

	stats := e.ActivityStats()
	if stats.HourlySteps[10] != 600 {
		t.Errorf("expected 600 steps at hour 10, got %d", stats.HourlySteps[10])
	}

	persisted, err := st.LoadActivityStats()
	if err != nil {
		t.Fatalf("failed to load activity stats: %v", err)
	}
	if persisted == nil || persisted.HourlySteps[10] != 600 {
		t.Errorf("expected persisted stats, got %+v", persisted)
	}
}

// staticPhraser rewrites every suggestion to a fixed string.
type staticPhraser struct {
	text string
	err  error
}

func (p staticPhraser) PolishSuggestion(ctx context.Context, title, suggestion string) (string, error) {
	return p.text, p.err
}

func TestPhraserPolishesSuggestion(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	e := New(
		WithClock(clock.Now),
		WithDispatcher(dispatcher),
		WithGenerator(generator.New(generator.WithPhrasePicker(func(n int) int { return 0 }))),
		WithPhraser(staticPhraser{text: "polished"}),
	)

	runCycle(t, e, lowBatterySnapshot())

	sent := dispatcher.sent
	if len(sent) != 1 || sent[0].Suggestion != "polished" {
		t.Errorf("expected polished suggestion on dispatch, got %+v", sent)
	}

	// The cached moment keeps the static suggestion.
	cached := e.GetRecentMoments()
	if len(cached) != 1 || cached[0].Suggestion == "polished" {
		t.Errorf("cache must keep the static suggestion, got %+v", cached)
	}
}

func TestPhraserFailureFallsBackToStaticText(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	e := New(
		WithClock(clock.Now),
		WithDispatcher(dispatcher),
		WithGenerator(generator.New(generator.WithPhrasePicker(func(n int) int { return 0 }))),
		WithPhraser(staticPhraser{err: fmt.Errorf("model offline")}),
	)

	runCycle(t, e, lowBatterySnapshot())

	sent := dispatcher.sent
	if len(sent) != 1 || sent[0].Suggestion == "" {
		t.Fatalf("expected dispatch with a suggestion, got %+v", sent)
	}
	cached := e.GetRecentMoments()
	if sent[0].Suggestion != cached[0].Suggestion {
		t.Errorf("failed phrasing must fall back to the static suggestion: %q vs %q", sent[0].Suggestion, cached[0].Suggestion)
	}
}

func TestConcurrentCyclesNotifyOnce(t *testing.T) {
	clock := newTestClock(cycleStart)
	dispatcher := newRecordingDispatcher()
	e := newTestEngine(clock, dispatcher, store.NewInMemoryStore())

	var wg sync.WaitGroup
	snap := lowBatterySnapshot()
	totalSent := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := e.GenerateAndNotify(context.Background(), snap.Info, snap.Capabilities, snap.Runtime)
			totalSent <- result.NewNotificationsSent
		}()
	}
	wg.Wait()
	close(totalSent)

	sum := 0
	for n := range totalSent {
		sum += n
	}
	if sum != 1 {
		t.Errorf("exactly one of the concurrent cycles may notify, got %d", sum)
	}
	if len(dispatcher.sentIDs()) != 1 {
		t.Errorf("expected one dispatch, got %v", dispatcher.sentIDs())
	}
}
