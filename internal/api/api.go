// Package api provides HTTP handlers and the main server logic for MomentPipe.
//
// It exposes endpoints for the device agent to push snapshots and trigger
// check cycles, and for the UI to read recent moments, activity stats, and
// the dispatch log. The API integrates with the engine, scheduler, and store
// modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/capability"
	"github.com/BTreeMap/MomentPipe/internal/engine"
	"github.com/BTreeMap/MomentPipe/internal/scheduler"
	"github.com/BTreeMap/MomentPipe/internal/store"
)

// Default server configuration constants
const (
	// DefaultAddr is the default API server listen address
	DefaultAddr = ":8080"
	// DefaultCheckInterval is how often the periodic trigger invokes a cycle.
	// The engine's own throttle decides whether a full cycle actually runs.
	DefaultCheckInterval = 5 * time.Minute
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	CheckInterval time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCheckInterval sets the periodic trigger interval.
func WithCheckInterval(d time.Duration) Option {
	return func(o *Opts) { o.CheckInterval = d }
}

// Server wires the engine, snapshot cache, store, and scheduler behind HTTP.
type Server struct {
	eng       *engine.Engine
	snapshots *capability.SnapshotCache
	st        store.Store
	sched     *scheduler.Scheduler
	addr      string
	interval  time.Duration
}

// NewServer creates a Server with the given collaborators.
func NewServer(eng *engine.Engine, snapshots *capability.SnapshotCache, st store.Store, sched *scheduler.Scheduler, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, CheckInterval: DefaultCheckInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		eng:       eng,
		snapshots: snapshots,
		st:        st,
		sched:     sched,
		addr:      cfg.Addr,
		interval:  cfg.CheckInterval,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/snapshot", s.snapshotHandler)
	mux.HandleFunc("/v1/check", s.checkHandler)
	mux.HandleFunc("/v1/moments", s.momentsHandler)
	mux.HandleFunc("/v1/notifications", s.notificationsHandler)
	mux.HandleFunc("/v1/activity", s.activityHandler)
	mux.HandleFunc("/v1/activity/sample", s.activitySampleHandler)
	mux.HandleFunc("/v1/reset", s.resetHandler)
	return mux
}

// Run registers the periodic trigger and serves HTTP until the listener fails.
func (s *Server) Run() error {
	if s.sched != nil {
		if err := s.sched.AddInterval(s.interval, s.periodicCheck); err != nil {
			return fmt.Errorf("failed to schedule periodic check: %w", err)
		}
		slog.Info("Periodic check scheduled", "interval", s.interval)
	}

	slog.Info("MomentPipe API running", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// periodicCheck runs a cycle with the cached snapshot, doing nothing until
// the device agent has pushed one.
func (s *Server) periodicCheck() {
	snap, ok := s.snapshots.Get()
	if !ok {
		slog.Debug("Periodic check skipped, no snapshot cached yet")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	result := s.eng.GenerateAndNotify(ctx, snap.Info, snap.Capabilities, snap.Runtime)
	slog.Debug("Periodic check complete", "moments", len(result.Moments), "sent", result.NewNotificationsSent)
}
