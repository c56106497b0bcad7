// Package schemarefresh owns the live schema snapshot. It builds the initial
// snapshot, then rebuilds and swaps it when the catalog fingerprint changes,
// when a NOTIFY arrives, or on demand.
package schemarefresh

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pgrest/internal/apierror"
	"pgrest/internal/logging"
	"pgrest/internal/naming"
	"pgrest/internal/observability"
	"pgrest/internal/resolver"
	"pgrest/internal/schemacache"
)

// Refresh triggers, also used as metric labels.
const (
	TriggerStartup = "startup"
	TriggerPoll    = "poll"
	TriggerNotify  = "notify"
	TriggerSignal  = "signal"
	TriggerAdmin   = "admin"
)

// LoadFunc introspects the catalog into a cache.
type LoadFunc func(ctx context.Context) (*schemacache.Cache, error)

// Config controls schema refresh behavior.
type Config struct {
	DB      schemacache.Queryer
	Schemas []string
	// Load defaults to schemacache.Load over DB.
	Load    LoadFunc
	Logger  *logging.Logger
	Metrics *observability.SchemaRefreshMetrics

	// MinInterval of zero disables polling.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Listener and NotifyChannel enable reloads on NOTIFY.
	Listener      Listener
	NotifyChannel string

	GraphQL  bool
	GraphiQL bool
	Runner   resolver.Runner
	Identity resolver.IdentityFunc
	Naming   naming.Config
}

// Manager maintains and refreshes schema snapshots.
type Manager struct {
	cfg         Config
	logger      *logging.Logger
	minInterval time.Duration
	maxInterval time.Duration

	active    atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
	triggers  chan string
	wg        sync.WaitGroup
}

// NewManager builds the initial snapshot and returns a manager.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("schema refresh manager requires a database handle")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.Load == nil {
		db, schemas := cfg.DB, cfg.Schemas
		cfg.Load = func(ctx context.Context) (*schemacache.Cache, error) {
			return schemacache.Load(ctx, db, schemas)
		}
	}

	maxInterval := cfg.MaxInterval
	if maxInterval < cfg.MinInterval {
		maxInterval = cfg.MinInterval
	}
	m := &Manager{
		cfg:         cfg,
		logger:      cfg.Logger.WithFields(slog.String("component", "schema_refresh")),
		minInterval: cfg.MinInterval,
		maxInterval: maxInterval,
		triggers:    make(chan string, 1),
	}

	if err := m.RefreshNow(ctx, TriggerStartup); err != nil {
		return nil, err
	}
	return m, nil
}

// Current returns the active snapshot.
func (m *Manager) Current() *Snapshot {
	return m.active.Load()
}

// Start launches the poll loop and, when configured, the NOTIFY listener.
func (m *Manager) Start(ctx context.Context) {
	if m.minInterval <= 0 {
		m.logger.Info("schema polling disabled")
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()

	if m.cfg.Listener != nil && m.cfg.NotifyChannel != "" {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.listenLoop(ctx)
		}()
	}
}

// Trigger queues an asynchronous forced reload. Triggers arriving while one is
// queued are coalesced.
func (m *Manager) Trigger(trigger string) {
	select {
	case m.triggers <- trigger:
	default:
	}
}

// Wait blocks until background goroutines exit or ctx is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshNow rebuilds the snapshot unconditionally and swaps it in. A failed
// build keeps the previous snapshot.
func (m *Manager) RefreshNow(ctx context.Context, trigger string) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	fingerprint, err := computeFingerprint(ctx, m.cfg.DB, m.cfg.Schemas)
	if err != nil {
		m.logger.Warn("failed to compute schema fingerprint", slog.String("error", err.Error()))
	}
	if err := m.rebuild(ctx, fingerprint, trigger); err != nil {
		m.cfg.Metrics.RecordRefresh(ctx, time.Since(start), false, trigger)
		return err
	}
	m.cfg.Metrics.RecordRefresh(ctx, time.Since(start), true, trigger)
	return nil
}

// refreshOnce rebuilds only when the fingerprint moved, widening the interval
// while nothing changes.
func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	fingerprint, err := computeFingerprint(ctx, m.cfg.DB, m.cfg.Schemas)
	if err != nil {
		m.logger.Warn("schema fingerprint check failed", slog.String("error", err.Error()))
		m.cfg.Metrics.RecordRefresh(ctx, time.Since(start), false, TriggerPoll)
		*interval = m.minInterval
		return
	}

	current := m.Current()
	if current != nil && fingerprint.Value == current.Fingerprint {
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	var previous map[string]string
	if current != nil {
		previous = current.Components
	}
	m.logger.Info("schema change detected, rebuilding",
		slog.String("fingerprint", fingerprint.Value),
		slog.Any("changed_components", changedFingerprintComponents(previous, fingerprint.Components)),
	)
	*interval = m.minInterval
	if err := m.rebuild(ctx, fingerprint, TriggerPoll); err != nil {
		m.logger.Error("failed to rebuild schema", slog.String("error", err.Error()))
		m.cfg.Metrics.RecordRefresh(ctx, time.Since(start), false, TriggerPoll)
		return
	}
	m.cfg.Metrics.RecordRefresh(ctx, time.Since(start), true, TriggerPoll)
}

func (m *Manager) rebuild(ctx context.Context, fingerprint fingerprintDetails, trigger string) error {
	cache, err := m.cfg.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schema cache: %w", err)
	}
	snapshot, err := BuildSnapshot(BuildConfig{
		Cache:    cache,
		GraphQL:  m.cfg.GraphQL,
		GraphiQL: m.cfg.GraphiQL,
		Runner:   m.cfg.Runner,
		Identity: m.cfg.Identity,
		Naming:   m.cfg.Naming,
		Logger:   m.logger.Logger,
	})
	if err != nil {
		return err
	}
	snapshot.Fingerprint = fingerprint.Value
	snapshot.Components = fingerprint.Components

	m.active.Store(snapshot)
	relations := len(cache.Tables())
	m.cfg.Metrics.RecordSwap(ctx, trigger, relations)
	m.logger.Info("schema snapshot published",
		slog.String("trigger", trigger),
		slog.String("fingerprint", snapshot.Fingerprint),
		slog.Int("relations", relations),
		slog.Int("routines", len(cache.Routines())),
	)
	return nil
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	var tick <-chan time.Time
	var timer *time.Timer
	if interval > 0 {
		timer = time.NewTimer(interval)
		defer timer.Stop()
		tick = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-tick:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		case trigger := <-m.triggers:
			if err := m.RefreshNow(ctx, trigger); err != nil {
				m.logger.Error("schema reload failed",
					slog.String("trigger", trigger),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// listenLoop keeps a NOTIFY listener running, reconnecting with backoff.
func (m *Manager) listenLoop(ctx context.Context) {
	backoff := time.Second
	for {
		err := m.cfg.Listener.Listen(ctx, m.cfg.NotifyChannel, m.handleNotification)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("schema listener disconnected",
			slog.String("channel", m.cfg.NotifyChannel),
			slog.Any("error", err),
			slog.Duration("retry_in", backoff),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// handleNotification reacts to "reload schema" or an empty payload.
func (m *Manager) handleNotification(payload string) {
	switch strings.TrimSpace(payload) {
	case "", "reload schema":
		m.Trigger(TriggerNotify)
	default:
		m.logger.Debug("ignoring notification", slog.String("payload", payload))
	}
}

// GraphQLHandler serves /graphql from whichever snapshot is current.
func (m *Manager) GraphQLHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.Current()
		if snapshot == nil || snapshot.Handler == nil {
			status, body := apierror.Describe(apierror.SchemaCacheNotReady())
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
			return
		}
		snapshot.Handler.ServeHTTP(w, r)
	})
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}
