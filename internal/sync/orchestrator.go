// Package sync contains the batch sync orchestrator: the top-level driver
// that debounces change requests into batches, serializes per-entity work,
// and keeps sync status and telemetry current.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxlog/voxsync/internal/backup"
	"github.com/voxlog/voxsync/internal/conflict"
	"github.com/voxlog/voxsync/internal/discovery"
	"github.com/voxlog/voxsync/internal/localstore"
	"github.com/voxlog/voxsync/internal/model"
	"github.com/voxlog/voxsync/internal/record"
	"github.com/voxlog/voxsync/internal/remote"
	"github.com/voxlog/voxsync/internal/signature"
)

const (
	otelScope       = "voxsync/sync"
	spanBatch       = "sync.batch"
	metricSynced    = "voxsync.sync.items.synced"
	metricFailed    = "voxsync.sync.items.failed"
	metricSkipped   = "voxsync.sync.items.skipped"
	metricConflicts = "voxsync.sync.conflicts"
)

// Mode selects when the orchestrator schedules work on its own.
type Mode string

const (
	ModeDisabled    Mode = "disabled"
	ModeChangesOnly Mode = "changes-only"
	ModePeriodic    Mode = "periodic"
)

// Config is the orchestrator's explicit configuration. Zero-value fields are
// replaced with defaults by [NewOrchestrator].
type Config struct {
	Strategy conflict.Strategy
	Mode     Mode

	// Debounce is how long after an Enqueue the pending queue drains, so
	// bursts of edits coalesce into one batch.
	Debounce time.Duration
	// Cooldown is the minimum gap between two syncs of the same entity.
	Cooldown time.Duration
	// HeartbeatBase is the unstretched periodic sync interval.
	HeartbeatBase time.Duration
	// InterItem is the pause between entities within a batch, respecting
	// remote rate limits.
	InterItem time.Duration
	// InterBatch is the pause between consecutive batches of one flush.
	InterBatch time.Duration
	// MaxBatchSize caps how many entities one batch drains.
	MaxBatchSize int

	// Backup carries the option flags for BackupAll and ResetAndResync.
	Backup signature.Options
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = conflict.StrategyNewerWins
	}
	if c.Mode == "" {
		c.Mode = ModeChangesOnly
	}
	if c.Debounce == 0 {
		c.Debounce = 3 * time.Second
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HeartbeatBase == 0 {
		c.HeartbeatBase = 5 * time.Minute
	}
	if c.InterItem == 0 {
		c.InterItem = 100 * time.Millisecond
	}
	if c.InterBatch == 0 {
		c.InterBatch = 2 * time.Second
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 20
	}
	return c
}

// Orchestrator drives incremental sync. Create one with [NewOrchestrator],
// feed it local mutations via [Orchestrator.Enqueue], and run its scheduler
// with [Orchestrator.Run].
//
// All mutations to the queue, the in-flight set, the cooldown map and the
// status pass through one mutex so no two batches or heartbeats interleave
// their writes to shared state.
type Orchestrator struct {
	local   localstore.Store
	meta    localstore.MetaStore
	store   remote.Store
	backups *backup.Runner
	lister  *discovery.Lister
	env     Environment
	cfg     Config
	log     *slog.Logger

	mu         gosync.Mutex
	enabled    bool
	status     Status
	reason     string
	lastSyncAt time.Time
	pending    []model.Entity
	pendingIDs map[uuid.UUID]bool
	inFlight   map[uuid.UUID]bool
	cooldown   map[uuid.UUID]time.Time
	debounce   *time.Timer

	// maintenance is set while a full backup/restore runs; concurrent
	// heartbeat and queued syncs skip, they do not queue up.
	maintenance atomic.Bool

	kick   chan struct{}
	events chan Event

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntSynced    metric.Int64Counter
	cntFailed    metric.Int64Counter
	cntSkipped   metric.Int64Counter
	cntConflicts metric.Int64Counter
}

// NewOrchestrator creates an Orchestrator. env may be nil, in which case an
// unconstrained environment is assumed. backups may be nil when the caller
// never uses the backup operations.
func NewOrchestrator(local localstore.Store, meta localstore.MetaStore, store remote.Store, backups *backup.Runner, env Environment, cfg Config, logger *slog.Logger) *Orchestrator {
	if env == nil {
		env = &StaticEnvironment{}
	}
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Orchestrator{
		local:   local,
		meta:    meta,
		store:   store,
		backups: backups,
		lister:  discovery.NewLister(store, logger),
		env:     env,
		cfg:     cfg.withDefaults(),
		log:     logger,

		enabled:    true,
		status:     StatusIdle,
		pendingIDs: make(map[uuid.UUID]bool),
		inFlight:   make(map[uuid.UUID]bool),
		cooldown:   make(map[uuid.UUID]time.Time),
		kick:       make(chan struct{}, 1),
		events:     make(chan Event, 64),

		tracer:       tracer,
		cntSynced:    mustCounter(metricSynced, "Number of entities synced"),
		cntFailed:    mustCounter(metricFailed, "Number of entity syncs that failed"),
		cntSkipped:   mustCounter(metricSkipped, "Number of entity syncs skipped by cooldown or in-flight checks"),
		cntConflicts: mustCounter(metricConflicts, "Number of conflicts requiring manual resolution"),
	}
}

// Events returns the observer stream. Events are dropped, not blocked on,
// when no one is reading.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Status returns a snapshot of the orchestrator's state.
func (o *Orchestrator) Status() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{
		Status:     o.statusLocked(),
		Reason:     o.reason,
		Pending:    len(o.pending),
		InFlight:   len(o.inFlight),
		LastSyncAt: o.lastSyncAt,
	}
}

func (o *Orchestrator) statusLocked() Status {
	if !o.enabled {
		return StatusDisabled
	}
	return o.status
}

// SetEnabled toggles sync. Disabling makes every operation short-circuit;
// the pending queue is dropped so stale edits do not fire later.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.mu.Lock()
	o.enabled = enabled
	if !enabled {
		o.pending = nil
		o.pendingIDs = make(map[uuid.UUID]bool)
		o.stopDebounceLocked()
	}
	o.mu.Unlock()
	o.log.Info("sync enabled state changed", "enabled", enabled)
	o.emit(Event{Type: EventStatusChanged, Status: o.Status().Status})
}

// SetStrategy changes the conflict strategy for subsequent batches.
func (o *Orchestrator) SetStrategy(s conflict.Strategy) {
	o.mu.Lock()
	o.cfg.Strategy = s
	o.mu.Unlock()
}

// Enqueue registers a locally mutated entity for upload. The entity is
// dropped when sync is disabled, when a sync for its id is already in
// flight, or when its last successful sync is within the cooldown window.
func (o *Orchestrator) Enqueue(e model.Entity) {
	id := e.EntityID()

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.enabled || o.cfg.Mode == ModeDisabled {
		o.log.Debug("enqueue dropped, sync disabled", "id", id)
		return
	}
	if o.inFlight[id] {
		o.log.Debug("enqueue dropped, sync in flight", "id", id)
		return
	}
	if last, ok := o.cooldown[id]; ok && time.Since(last) < o.cfg.Cooldown {
		o.log.Debug("enqueue dropped, in cooldown", "id", id, "last_synced", last)
		return
	}
	if o.pendingIDs[id] {
		// Already queued; the newest state is read at sync time anyway.
		return
	}

	o.pending = append(o.pending, e)
	o.pendingIDs[id] = true
	o.restartDebounceLocked()
}

func (o *Orchestrator) restartDebounceLocked() {
	o.stopDebounceLocked()
	o.debounce = time.AfterFunc(o.cfg.Debounce, func() {
		select {
		case o.kick <- struct{}{}:
		default:
		}
	})
}

func (o *Orchestrator) stopDebounceLocked() {
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
}

// Run blocks, draining debounced batches and firing heartbeat syncs until
// ctx is cancelled. There must be at most one Run per Orchestrator.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("sync orchestrator started",
		"mode", o.cfg.Mode,
		"strategy", o.cfg.Strategy,
		"debounce", o.cfg.Debounce,
		"cooldown", o.cfg.Cooldown,
	)

	for {
		timer := time.NewTimer(o.heartbeatInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			o.log.Info("sync orchestrator shutting down")
			return ctx.Err()
		case <-o.kick:
			timer.Stop()
			if _, err := o.FlushPending(ctx); err != nil {
				o.log.Error("batch sync failed", "error", err)
			}
		case <-timer.C:
			o.heartbeat(ctx)
		}
	}
}

// heartbeat runs the periodic pass. Under ModePeriodic everything is
// re-enqueued for a full re-sync; under ModeChangesOnly only the already
// pending queue is flushed.
func (o *Orchestrator) heartbeat(ctx context.Context) {
	if o.cfg.Mode == ModeDisabled {
		return
	}
	if reason, ok := o.skipReason(); ok {
		o.log.Debug("heartbeat skipped", "reason", reason)
		return
	}

	if o.cfg.Mode == ModePeriodic {
		if err := o.enqueueAll(ctx); err != nil {
			o.log.Error("heartbeat scan failed", "error", err)
			return
		}
	}

	if _, err := o.FlushPending(ctx); err != nil {
		o.log.Error("heartbeat sync failed", "error", err)
	}
}

// heartbeatInterval stretches the base interval up to 4x as device pressure
// accumulates, so a constrained device on battery syncs less often.
func (o *Orchestrator) heartbeatInterval() time.Duration {
	factor := 1
	if o.env.Network() != NetworkAvailable {
		factor++
	}
	if o.env.BatteryOptimized() {
		factor++
	}
	if o.env.MemoryPressure() {
		factor++
	}
	return o.cfg.HeartbeatBase * time.Duration(factor)
}

// skipReason reports whether sync passes must be skipped outright, with no
// state change, and why.
func (o *Orchestrator) skipReason() (string, bool) {
	if o.maintenance.Load() {
		return "backup or restore in progress", true
	}
	if o.env.Network() != NetworkAvailable {
		return "network " + o.env.Network().String(), true
	}
	if o.env.BatteryLow() {
		return "battery critically low", true
	}
	if o.env.MemoryPressure() {
		return "memory pressure", true
	}
	return "", false
}

// enqueueAll queues every local entity. Used by the periodic heartbeat and
// by SyncNow.
func (o *Orchestrator) enqueueAll(ctx context.Context) error {
	for _, kind := range model.Kinds {
		entities, err := o.local.GetAll(ctx, kind)
		if err != nil {
			return fmt.Errorf("scanning local %s records: %w", kind, err)
		}
		for _, e := range entities {
			o.Enqueue(e)
		}
	}
	return nil
}

// Delete removes an entity from both sides: the local row, the remote
// record, and its content index entry. This is the only path that hard
// deletes remote data outside of a reset.
func (o *Orchestrator) Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	o.mu.Lock()
	enabled := o.enabled
	o.mu.Unlock()
	if !enabled {
		return fmt.Errorf("sync is disabled")
	}

	if err := o.local.Delete(ctx, kind, id); err != nil {
		return fmt.Errorf("deleting local %s %s: %w", kind, id, err)
	}

	name := record.NameFor(kind, id)
	if err := remote.DeleteWithRetry(ctx, o.store, name, o.log); err != nil {
		return fmt.Errorf("deleting remote %s: %w", name, err)
	}

	o.mu.Lock()
	delete(o.cooldown, id)
	if o.pendingIDs[id] {
		delete(o.pendingIDs, id)
		kept := o.pending[:0]
		for _, p := range o.pending {
			if p.EntityID() != id {
				kept = append(kept, p)
			}
		}
		o.pending = kept
	}
	o.mu.Unlock()

	if ci, err := o.lister.ReadIndex(ctx); err == nil && ci != nil && ci.Remove(kind, name) {
		ci.UpdatedAt = time.Now().UTC()
		if _, err := remote.SaveWithRetry(ctx, o.store, record.IndexToRemote(ci), o.log); err != nil {
			o.log.Warn("content index update failed after delete", "record", name, "error", err)
		}
	}

	o.log.Info("entity deleted", "record", name)
	return nil
}

// SyncNow queues every local entity and flushes immediately, bypassing the
// debounce window. Cooldown and in-flight suppression still apply.
func (o *Orchestrator) SyncNow(ctx context.Context) (Stats, error) {
	if err := o.enqueueAll(ctx); err != nil {
		return Stats{}, err
	}
	return o.FlushPending(ctx)
}

// FlushPending drains the pending queue in batches until it is empty,
// cancelling any armed debounce timer first. It returns aggregate stats and
// the first per-batch error.
func (o *Orchestrator) FlushPending(ctx context.Context) (Stats, error) {
	o.mu.Lock()
	o.stopDebounceLocked()
	enabled := o.enabled
	o.mu.Unlock()

	if !enabled {
		return Stats{}, nil
	}
	if reason, ok := o.skipReason(); ok {
		o.log.Info("sync skipped", "reason", reason)
		return Stats{}, nil
	}

	var total Stats
	var firstErr error
	for {
		batch := o.drain()
		if len(batch) == 0 {
			break
		}
		stats, err := o.batchSync(ctx, batch)
		total.add(stats)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}

		o.mu.Lock()
		more := len(o.pending) > 0
		o.mu.Unlock()
		if !more {
			break
		}
		if err := sleep(ctx, o.cfg.InterBatch); err != nil {
			break
		}
	}
	return total, firstErr
}

// drain moves up to MaxBatchSize entities from pending into the in-flight
// set as one guarded step, so no other batch can pick them up.
func (o *Orchestrator) drain() []model.Entity {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := min(len(o.pending), o.cfg.MaxBatchSize)
	if n == 0 {
		return nil
	}
	batch := o.pending[:n]
	o.pending = append([]model.Entity(nil), o.pending[n:]...)
	for _, e := range batch {
		id := e.EntityID()
		delete(o.pendingIDs, id)
		o.inFlight[id] = true
	}
	return batch
}

// batchSync processes one batch, recording a trace span and metrics. Per
// entity failures are counted but do not abort sibling entities.
func (o *Orchestrator) batchSync(ctx context.Context, batch []model.Entity) (Stats, error) {
	ctx, span := o.tracer.Start(ctx, spanBatch)
	defer span.End()

	o.setStatus(StatusSyncing, "")
	o.emit(Event{Type: EventBatchStarted, Remaining: len(batch)})

	var stats Stats
	var firstErr error
	var synced []string
	for i, e := range batch {
		name := record.NameFor(e.EntityKind(), e.EntityID())
		res, err := o.syncEntity(ctx, e)

		o.mu.Lock()
		delete(o.inFlight, e.EntityID())
		if err == nil {
			o.cooldown[e.EntityID()] = time.Now()
		}
		o.mu.Unlock()

		switch {
		case err != nil:
			stats.Failed++
			o.log.Error("entity sync failed", "record", name, "error", err)
			o.emit(Event{Type: EventItemFailed, RecordName: name, Err: err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			if remote.IsKind(err, remote.KindAccount) {
				// An unavailable account would fail every sibling the same
				// way; disable sync to avoid a retry storm.
				o.log.Error("remote account unavailable, disabling sync")
				o.releaseInFlight(batch[i+1:])
				o.SetEnabled(false)
				o.finishBatch(stats, firstErr, span)
				return stats, firstErr
			}
		case res == PendingManual:
			stats.Conflicts++
			o.emit(Event{Type: EventItemConflict, RecordName: name})
		default:
			stats.Synced++
			synced = append(synced, name)
			o.emit(Event{
				Type:       EventItemSynced,
				RecordName: name,
				Synced:     stats.Synced,
				Failed:     stats.Failed,
				Remaining:  len(batch) - i - 1,
			})
		}

		if i < len(batch)-1 {
			if err := sleep(ctx, o.cfg.InterItem); err != nil {
				o.releaseInFlight(batch[i+1:])
				break
			}
		}
	}

	o.maintainIndex(ctx, synced)
	o.finishBatch(stats, firstErr, span)
	return stats, firstErr
}

// maintainIndex adds freshly synced record names to an existing content
// index so tier-1 discovery stays warm between backups. A missing index is
// left for the next backup to establish, since a partial index would hide
// records from the index tier.
func (o *Orchestrator) maintainIndex(ctx context.Context, names []string) {
	if len(names) == 0 {
		return
	}
	ci, err := o.lister.ReadIndex(ctx)
	if err != nil || ci == nil {
		return
	}
	changed := false
	for _, name := range names {
		kind, _, perr := record.ParseName(name)
		if perr != nil {
			continue
		}
		if ci.Add(kind, name) {
			changed = true
		}
	}
	if !changed {
		return
	}
	ci.UpdatedAt = time.Now().UTC()
	if _, err := remote.SaveWithRetry(ctx, o.store, record.IndexToRemote(ci), o.log); err != nil {
		o.log.Warn("content index update failed", "error", err)
	}
}

// releaseInFlight clears the in-flight marks of entities a batch never
// reached, so an aborted batch cannot suppress their next enqueue forever.
func (o *Orchestrator) releaseInFlight(rest []model.Entity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range rest {
		delete(o.inFlight, e.EntityID())
	}
}

func (o *Orchestrator) finishBatch(stats Stats, err error, span trace.Span) {
	if stats.Synced > 0 {
		o.cntSynced.Add(context.Background(), int64(stats.Synced))
	}
	if stats.Failed > 0 {
		o.cntFailed.Add(context.Background(), int64(stats.Failed))
	}
	if stats.Skipped > 0 {
		o.cntSkipped.Add(context.Background(), int64(stats.Skipped))
	}
	if stats.Conflicts > 0 {
		o.cntConflicts.Add(context.Background(), int64(stats.Conflicts))
	}
	span.SetAttributes(
		attribute.Int("sync.synced", stats.Synced),
		attribute.Int("sync.failed", stats.Failed),
		attribute.Int("sync.conflicts", stats.Conflicts),
	)
	if err != nil {
		span.RecordError(err)
		o.setStatus(StatusFailed, fmt.Sprintf("%d of %d items failed: %v", stats.Failed, stats.Synced+stats.Failed+stats.Conflicts, err))
	} else {
		o.mu.Lock()
		o.lastSyncAt = time.Now()
		o.mu.Unlock()
		o.setStatus(StatusCompleted, "")
		if o.meta != nil {
			_ = o.meta.SetMeta(context.Background(), localstore.MetaLastSyncAt, time.Now().UTC().Format(time.RFC3339Nano))
		}
	}

	o.log.Info("batch complete",
		"synced", stats.Synced,
		"failed", stats.Failed,
		"conflicts", stats.Conflicts,
	)
	o.emit(Event{Type: EventBatchFinished, Synced: stats.Synced, Failed: stats.Failed})
}

// PendingManual aliases the conflict outcome so batchSync can report it.
const PendingManual = conflict.PendingManual

// syncEntity reconciles one entity with its remote counterpart: fetch or
// create, resolve, then write the winner to whichever side lost.
func (o *Orchestrator) syncEntity(ctx context.Context, e model.Entity) (conflict.Outcome, error) {
	localRec, err := record.ToRemote(e)
	if err != nil {
		return 0, fmt.Errorf("encoding %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}

	current, err := o.store.Fetch(ctx, localRec.Name)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", localRec.Name, err)
	}

	if current == nil {
		if _, err := remote.SaveWithRetry(ctx, o.store, localRec, o.log); err != nil {
			return 0, err
		}
		return conflict.WinnerLocal, nil
	}

	o.mu.Lock()
	strategy := o.cfg.Strategy
	o.mu.Unlock()

	res, err := conflict.Resolve(localRec, current, strategy)
	if err != nil {
		return 0, err
	}

	switch res.Outcome {
	case conflict.WinnerLocal:
		if record.FieldsEqual(localRec, current, record.TimestampFields...) {
			// Timestamp-only drift; nothing to write.
			return conflict.WinnerLocal, nil
		}
		merged := current.Clone()
		for k, v := range localRec.Fields {
			merged.Fields[k] = v
		}
		if _, err := remote.SaveWithRetry(ctx, o.store, merged, o.log); err != nil {
			return 0, err
		}
		return conflict.WinnerLocal, nil

	case conflict.WinnerRemote:
		winner, err := record.FromRemote(current)
		if err != nil {
			return 0, fmt.Errorf("decoding remote winner %s: %w", current.Name, err)
		}
		if err := o.local.Save(ctx, winner); err != nil {
			return 0, fmt.Errorf("applying remote winner %s locally: %w", current.Name, err)
		}
		return conflict.WinnerRemote, nil

	default:
		o.log.Info("conflict needs manual resolution",
			"record", localRec.Name,
			"local_modified", res.Conflict.LocalModified,
			"remote_modified", res.Conflict.RemoteModified,
		)
		return conflict.PendingManual, nil
	}
}

func (o *Orchestrator) setStatus(status Status, reason string) {
	o.mu.Lock()
	o.status = status
	o.reason = reason
	o.mu.Unlock()
	o.emit(Event{Type: EventStatusChanged, Status: status, Err: reason})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
