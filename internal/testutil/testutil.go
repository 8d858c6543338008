// Package testutil provides common test utilities and helpers for MomentPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/api"
	"github.com/BTreeMap/MomentPipe/internal/capability"
	"github.com/BTreeMap/MomentPipe/internal/engine"
	"github.com/BTreeMap/MomentPipe/internal/generator"
	"github.com/BTreeMap/MomentPipe/internal/models"
	"github.com/BTreeMap/MomentPipe/internal/notify"
	"github.com/BTreeMap/MomentPipe/internal/scheduler"
	"github.com/BTreeMap/MomentPipe/internal/store"
)

// Clock is an adjustable time source for driving throttle and cooldown windows.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake time forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeDispatcher records dispatched moments and can be told to fail specific ids.
type FakeDispatcher struct {
	mu      sync.Mutex
	sent    []models.Moment
	failIDs map[string]bool
}

// NewFakeDispatcher creates an empty FakeDispatcher.
func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{failIDs: make(map[string]bool)}
}

// FailFor makes subsequent dispatches of the given moment id return an error.
func (d *FakeDispatcher) FailFor(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failIDs[id] = true
}

// SendNotification records the moment, or fails if its id was marked.
func (d *FakeDispatcher) SendNotification(ctx context.Context, m models.Moment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIDs[m.ID] {
		return fmt.Errorf("dispatch refused for %s", m.ID)
	}
	d.sent = append(d.sent, m)
	return nil
}

// Channel returns the channel name.
func (d *FakeDispatcher) Channel() string {
	return "fake"
}

// Sent returns a copy of the dispatched moments in order.
func (d *FakeDispatcher) Sent() []models.Moment {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Moment, len(d.sent))
	copy(out, d.sent)
	return out
}

// SentIDs returns the ids of dispatched moments in order.
func (d *FakeDispatcher) SentIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sent))
	for _, m := range d.sent {
		ids = append(ids, m.ID)
	}
	return ids
}

// NewTestEngine creates an engine wired to the given fakes with deterministic
// phrasing. Any nil collaborator falls back to the engine's default.
func NewTestEngine(clock *Clock, d notify.Dispatcher, st store.Store) *engine.Engine {
	opts := []engine.Option{
		engine.WithGenerator(generator.New(generator.WithPhrasePicker(func(n int) int { return 0 }))),
	}
	if clock != nil {
		opts = append(opts, engine.WithClock(clock.Now))
	}
	if d != nil {
		opts = append(opts, engine.WithDispatcher(d))
	}
	if st != nil {
		opts = append(opts, engine.WithStore(st))
	}
	return engine.New(opts...)
}

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across multiple test files.
func NewTestServer() *api.Server {
	st := store.NewInMemoryStore()
	eng := NewTestEngine(nil, NewFakeDispatcher(), st)
	return api.NewServer(eng, capability.NewSnapshotCache(), st, scheduler.NewScheduler())
}

// QuietSnapshot returns a snapshot that trips no battery, storage, display,
// sensor, or gaming rule, so only time-of-day rules can fire.
func QuietSnapshot() models.Snapshot {
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

// LowBatterySnapshot returns a QuietSnapshot with battery under the low threshold.
func LowBatterySnapshot() models.Snapshot {
	snap := QuietSnapshot()
	snap.Runtime.BatteryLevel = 0.15
	return snap
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertRecordCount validates the dispatch log length.
func AssertRecordCount(t *testing.T, st store.Store, expected int, context string) {
	t.Helper()
	records, err := st.GetNotificationRecords()
	if err != nil {
		t.Fatalf("%s: failed to get notification records: %v", context, err)
	}
	if len(records) != expected {
		t.Errorf("%s: expected %d records, got %d", context, expected, len(records))
	}
}
