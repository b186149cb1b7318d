package presence

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scholarsync/realtime/internal/api"
	"github.com/scholarsync/realtime/internal/auth"
	"github.com/scholarsync/realtime/internal/connection"
	"github.com/scholarsync/realtime/internal/event"
)

// API is the REST surface the tracker polls.
type API interface {
	PostHeartbeat(ctx context.Context) error
	BulkStatus(ctx context.Context, userIDs []string) (map[string]api.PresenceStatus, error)
}

// Config holds presence tracker configuration.
type Config struct {
	HeartbeatInterval time.Duration // Heartbeat period (default: 30s)
	RefreshInterval   time.Duration // Reconciliation poll period (default: 60s)
	RequestTimeout    time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		RefreshInterval:   60 * time.Second,
		RequestTimeout:    10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Tracked         int
	Entries         int
	Heartbeats      int64
	HeartbeatErrors int64
	Polls           int64
	PollErrors      int64
	PollsShared     int64
	PushesApplied   int64
	PushesDropped   int64
}

// Tracker maintains a best-effort view of collaborator presence by
// combining stream pushes with periodic pull reconciliation.
type Tracker struct {
	cfg    Config
	client API
	tokens auth.TokenSource
	logger *slog.Logger

	state *trackerState
	group singleflight.Group

	// refreshKick schedules an out-of-cycle reconciliation pass.
	// Buffered so pending kicks collapse into one.
	refreshKick chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.RWMutex
	heartbeats    int64
	heartbeatErrs int64
	polls         int64
	pollErrs      int64
	pollsShared   int64
	pushesApplied int64
	pushesDropped int64
}

// New creates a new Presence Tracker.
func New(cfg Config, client API, tokens auth.TokenSource, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:         cfg,
		client:      client,
		tokens:      tokens,
		logger:      logger,
		state:       newState(),
		refreshKick: make(chan struct{}, 1),
	}
}

// Start begins the heartbeat and reconciliation loops.
func (t *Tracker) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.run()

	t.logger.Info("presence tracker started",
		"heartbeat_interval", t.cfg.HeartbeatInterval,
		"refresh_interval", t.cfg.RefreshInterval,
	)

	return nil
}

// Stop gracefully shuts down the tracker.
func (t *Tracker) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("presence tracker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main tracker loop.
func (t *Tracker) run() {
	defer t.wg.Done()

	heartbeat := time.NewTicker(t.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	reconcile := time.NewTicker(t.cfg.RefreshInterval)
	defer reconcile.Stop()

	// Mark the local session active right away.
	t.spawnHeartbeat()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-heartbeat.C:
			t.spawnHeartbeat()
		case <-reconcile.C:
			t.spawnRefresh()
		case <-t.refreshKick:
			t.spawnRefresh()
		}
	}
}

// spawnHeartbeat runs a heartbeat without blocking the loop.
func (t *Tracker) spawnHeartbeat() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.Heartbeat(t.ctx)
	}()
}

// spawnRefresh runs a reconciliation pass without blocking the loop.
func (t *Tracker) spawnRefresh() {
	ids := t.state.trackedIDs()
	if len(ids) == 0 {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.Refresh(t.ctx, ids)
	}()
}

// Heartbeat marks the local session active. Skipped without a credential.
// Failures are logged and otherwise ignored.
func (t *Tracker) Heartbeat(ctx context.Context) {
	if t.tokens.Token() == "" {
		t.logger.Debug("heartbeat skipped, no credential")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	if err := t.client.PostHeartbeat(reqCtx); err != nil {
		t.logger.Warn("heartbeat failed", "err", err)
		t.mu.Lock()
		t.heartbeatErrs++
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	t.heartbeats++
	t.mu.Unlock()
}

// Refresh issues one bulk-status request for ids and merges the response
// over the local entries. Concurrent refreshes for the same id set share
// a single in-flight request. No-op for an empty id set or without a
// credential.
func (t *Tracker) Refresh(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if t.tokens.Token() == "" {
		t.logger.Debug("presence refresh skipped, no credential")
		return nil
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	key := strings.Join(sorted, ",")
	_, err, shared := t.group.Do(key, func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
		defer cancel()

		t.mu.Lock()
		t.polls++
		t.mu.Unlock()

		statuses, err := t.client.BulkStatus(reqCtx, sorted)
		if err != nil {
			t.logger.Warn("presence refresh failed", "ids", len(sorted), "err", err)
			t.mu.Lock()
			t.pollErrs++
			t.mu.Unlock()
			return nil, err
		}
		t.applyBulk(statuses)
		return nil, nil
	})

	if shared {
		t.mu.Lock()
		t.pollsShared++
		t.mu.Unlock()
	}
	return err
}

// applyBulk merges a bulk-status response, overwriting prior entries
// for the returned ids.
func (t *Tracker) applyBulk(statuses map[string]api.PresenceStatus) {
	entries := make(map[string]Entry, len(statuses))
	for id, s := range statuses {
		entries[id] = Entry{
			Status:   s.Status,
			LastSeen: event.TimeFromMillis(s.LastSeen),
		}
	}
	t.state.merge(entries)
}

// HandleMessage consumes decoded stream messages. Presence pushes are
// applied immediately; each push also kicks a reconciliation pass so
// tracked ids that missed earlier pushes converge.
func (t *Tracker) HandleMessage(msg connection.Message) {
	if msg.Type != event.TypePresence {
		return
	}

	p, err := event.ParsePresence(msg.Raw)
	if err != nil {
		t.logger.Warn("dropping malformed presence push", "err", err)
		t.mu.Lock()
		t.pushesDropped++
		t.mu.Unlock()
		return
	}

	t.state.upsert(p.UserID, Entry{
		Status:   p.Status,
		LastSeen: event.TimeFromMillis(p.Timestamp),
	})

	t.mu.Lock()
	t.pushesApplied++
	t.mu.Unlock()

	t.kickRefresh()
}

// Track adds ids to the reconciliation set. The set turning non-empty
// triggers an immediate bulk refresh.
func (t *Tracker) Track(ids ...string) {
	added, wasEmpty := t.state.track(ids)
	if added > 0 && wasEmpty {
		t.kickRefresh()
	}
}

// Untrack removes ids from the reconciliation set. Known entries are
// kept; they simply stop being reconciled.
func (t *Tracker) Untrack(ids ...string) {
	t.state.untrack(ids)
}

// Status returns the last known status for id, defaulting to offline
// for ids never seen in a push or poll response.
func (t *Tracker) Status(id string) string {
	return t.state.status(id)
}

// LastSeen returns the last-seen time for id. ok is false when the
// user has never been seen.
func (t *Tracker) LastSeen(id string) (time.Time, bool) {
	return t.state.lastSeen(id)
}

// Snapshot returns a copy of all known presence entries.
func (t *Tracker) Snapshot() map[string]Entry {
	return t.state.snapshot()
}

// Tracked returns the ids under reconciliation, sorted.
func (t *Tracker) Tracked() []string {
	return t.state.trackedIDs()
}

// Stats returns current statistics.
func (t *Tracker) Stats() Stats {
	tracked, entries := t.state.counts()

	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		Tracked:         tracked,
		Entries:         entries,
		Heartbeats:      t.heartbeats,
		HeartbeatErrors: t.heartbeatErrs,
		Polls:           t.polls,
		PollErrors:      t.pollErrs,
		PollsShared:     t.pollsShared,
		PushesApplied:   t.pushesApplied,
		PushesDropped:   t.pushesDropped,
	}
}

// kickRefresh schedules a reconciliation pass without blocking the
// caller. A kick already pending absorbs this one.
func (t *Tracker) kickRefresh() {
	select {
	case t.refreshKick <- struct{}{}:
	default:
	}
}
