// Package backup implements the full-snapshot disaster recovery path: a
// complete mirrored record set on the remote store, distinct from the
// incremental sync performed by the orchestrator.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/conflict"
	"github.com/voxlog/voxsync/internal/discovery"
	"github.com/voxlog/voxsync/internal/localstore"
	"github.com/voxlog/voxsync/internal/model"
	"github.com/voxlog/voxsync/internal/record"
	"github.com/voxlog/voxsync/internal/remote"
	"github.com/voxlog/voxsync/internal/signature"

	"log/slog"
)

// Result reports what a BackupAll pass did.
type Result struct {
	RecordingsBackedUp  int
	TranscriptsBackedUp int
	SummariesBackedUp   int
	FilesUploaded       int
	FilesSkipped        int
	DuplicatesRemoved   int

	// SkippedNoChanges is true when the local snapshot's signature matched
	// the last successful backup and the remote already held content, so
	// the whole pass was a no-op.
	SkippedNoChanges bool
}

// Total returns the number of records backed up across all kinds.
func (r *Result) Total() int {
	return r.RecordingsBackedUp + r.TranscriptsBackedUp + r.SummariesBackedUp
}

// RestoreResult reports what a RestoreAll pass did.
type RestoreResult struct {
	RecordingsRestored  int
	TranscriptsRestored int
	SummariesRestored   int
	DuplicatesRemoved   int
	DecodeFailures      int
}

// IncompleteRestoreError is returned when restore finds zero content records
// of any kind. It distinguishes an empty backup from an environment that
// cannot see the backup at all.
type IncompleteRestoreError struct {
	// AccountReachable is true when the remote account answered, meaning
	// the backup genuinely holds no content. False means the account itself
	// is unavailable, so the backup may exist but this device cannot see it
	// (wrong credentials or a different remote environment).
	AccountReachable bool
}

func (e *IncompleteRestoreError) Error() string {
	if e.AccountReachable {
		return "no backup content found: the remote store is reachable but holds no records; run a backup first"
	}
	return "no backup content found: the remote account is unavailable; check credentials and that this device uses the same remote environment the backup was written to"
}

// Runner performs full-snapshot backup, restore, and reset operations.
type Runner struct {
	local  localstore.Store
	meta   localstore.MetaStore
	store  remote.Store
	lister *discovery.Lister
	log    *slog.Logger
}

// NewRunner creates a Runner wired to the given stores.
func NewRunner(local localstore.Store, meta localstore.MetaStore, store remote.Store, lister *discovery.Lister, logger *slog.Logger) *Runner {
	return &Runner{local: local, meta: meta, store: store, lister: lister, log: logger}
}

// BackupAll mirrors the full local snapshot to the remote store.
//
// If the snapshot's signature matches the last successful backup and the
// remote already holds at least one content record, the pass is skipped
// entirely, bounding repeated invocations to O(1) remote calls. Otherwise
// every entity is uploaded with a field-level diff against its current remote
// counterpart, duplicate remote records are collapsed to one per logical
// entity, and the content index is rewritten with the authoritative set of
// record names.
func (r *Runner) BackupAll(ctx context.Context, opts signature.Options) (*Result, error) {
	snapshot, all, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sig := signature.Compute(all, opts)
	prev, err := r.meta.GetMeta(ctx, localstore.MetaBackupSignature)
	if err != nil {
		return nil, fmt.Errorf("reading last backup signature: %w", err)
	}
	if prev != "" && prev == sig {
		has, err := r.lister.HasContent(ctx)
		if err == nil && has {
			r.log.Info("backup skipped, nothing changed since last backup")
			return &Result{SkippedNoChanges: true}, nil
		}
		// Signature matches but remote content is missing or unverifiable:
		// fall through to a full upload.
	}

	if err := r.ensureIdentities(ctx, all); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, kind := range model.Kinds {
		n, err := r.backupKind(ctx, kind, snapshot[kind], opts, result)
		if err != nil {
			return nil, err
		}
		switch kind {
		case model.KindRecording:
			result.RecordingsBackedUp = n
		case model.KindTranscript:
			result.TranscriptsBackedUp = n
		case model.KindSummary:
			result.SummariesBackedUp = n
		}
	}

	names, removed, err := r.dedupRemote(ctx)
	if err != nil {
		return nil, err
	}
	result.DuplicatesRemoved = removed

	if err := r.lister.WriteIndex(ctx, names); err != nil {
		return nil, fmt.Errorf("rewriting content index: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.meta.SetMeta(ctx, localstore.MetaBackupSignature, sig); err != nil {
		return nil, fmt.Errorf("storing backup signature: %w", err)
	}
	if err := r.meta.SetMeta(ctx, localstore.MetaLastSyncAt, now); err != nil {
		return nil, fmt.Errorf("storing last sync time: %w", err)
	}

	r.log.Info("backup complete",
		"recordings", result.RecordingsBackedUp,
		"transcripts", result.TranscriptsBackedUp,
		"summaries", result.SummariesBackedUp,
		"files_uploaded", result.FilesUploaded,
		"files_skipped", result.FilesSkipped,
		"duplicates_removed", result.DuplicatesRemoved,
	)
	return result, nil
}

// snapshot reads the full local record set, grouped by kind and flattened.
func (r *Runner) snapshot(ctx context.Context) (map[model.Kind][]model.Entity, []model.Entity, error) {
	byKind := make(map[model.Kind][]model.Entity, len(model.Kinds))
	var all []model.Entity
	for _, kind := range model.Kinds {
		entities, err := r.local.GetAll(ctx, kind)
		if err != nil {
			return nil, nil, fmt.Errorf("reading local %s records: %w", kind, err)
		}
		byKind[kind] = entities
		all = append(all, entities...)
	}
	return byKind, all, nil
}

// ensureIdentities assigns a UUID to any entity that lacks one, persisting
// the assignment before anything is sent. A record must never reach the
// remote store without a durable identity.
func (r *Runner) ensureIdentities(ctx context.Context, entities []model.Entity) error {
	now := time.Now().UTC()
	for _, e := range entities {
		if e.EntityID() != uuid.Nil {
			continue
		}
		id := uuid.New()
		switch v := e.(type) {
		case *model.Recording:
			v.ID = id
			if v.CreatedAt.IsZero() {
				v.CreatedAt = now
			}
		case *model.Transcript:
			v.ID = id
			if v.CreatedAt.IsZero() {
				v.CreatedAt = now
			}
		case *model.Summary:
			v.ID = id
			if v.CreatedAt.IsZero() {
				v.CreatedAt = now
			}
		}
		if err := r.local.Save(ctx, e); err != nil {
			return fmt.Errorf("persisting identity for new %s: %w", e.EntityKind(), err)
		}
		r.log.Debug("assigned identity", "kind", e.EntityKind(), "id", id)
	}
	return nil
}

// backupKind uploads one kind's entities, diffing field-by-field against the
// current remote counterpart so unchanged records cost a fetch but no write.
func (r *Runner) backupKind(ctx context.Context, kind model.Kind, entities []model.Entity, opts signature.Options, result *Result) (int, error) {
	count := 0
	for _, e := range entities {
		rec, err := record.ToRemote(e)
		if err != nil {
			return count, fmt.Errorf("encoding %s %s: %w", kind, e.EntityID(), err)
		}

		current, err := r.store.Fetch(ctx, rec.Name)
		if err != nil {
			return count, fmt.Errorf("fetching current %s: %w", rec.Name, err)
		}

		if kind == model.KindRecording && opts.IncludeAudioFiles {
			if err := r.attachAudio(e.(*model.Recording), rec, current, result); err != nil {
				r.log.Warn("skipping audio attachment", "record", rec.Name, "error", err)
			}
		}

		if current != nil && record.FieldsEqual(rec, current) {
			count++
			continue
		}

		out := rec
		if current != nil {
			// Overlay only our fields onto the server's version so fields we
			// do not carry (e.g. audio data uploaded by another device) survive.
			out = current.Clone()
			for k, v := range rec.Fields {
				out.Fields[k] = v
			}
		}
		if _, err := remote.SaveWithRetry(ctx, r.store, out, r.log); err != nil {
			return count, fmt.Errorf("uploading %s: %w", rec.Name, err)
		}
		count++
	}
	return count, nil
}

// attachAudio adds the recording's audio content to rec unless the remote
// already holds the same file, keyed by a size+mtime signature.
func (r *Runner) attachAudio(rec *model.Recording, out, current *record.Remote, result *Result) error {
	if rec.AudioPath == "" {
		return nil
	}
	sig, err := record.AudioSignature(rec.AudioPath)
	if err != nil {
		return err
	}
	if current != nil {
		remoteSig, err := current.String(record.FieldAudioSig)
		if err == nil && remoteSig == sig {
			result.FilesSkipped++
			return nil
		}
	}
	if err := record.AttachAudio(out, rec.AudioPath); err != nil {
		return err
	}
	result.FilesUploaded++
	return nil
}

// dedupRemote collapses duplicate remote records down to one per logical
// entity and returns the surviving record names per kind.
func (r *Runner) dedupRemote(ctx context.Context) (map[model.Kind][]string, int, error) {
	names := make(map[model.Kind][]string, len(model.Kinds))
	removed := 0
	for _, kind := range model.Kinds {
		recs, err := r.lister.ListRecords(ctx, kind)
		if err != nil {
			return nil, removed, fmt.Errorf("listing %s records for dedup: %w", kind, err)
		}
		kept, discarded := conflict.LatestPerEntity(recs, conflict.OwnerKey, record.TimestampFields)
		for _, name := range discarded {
			if err := remote.DeleteWithRetry(ctx, r.store, name, r.log); err != nil {
				return nil, removed, fmt.Errorf("deleting duplicate %s: %w", name, err)
			}
			removed++
		}
		for _, rec := range kept {
			names[kind] = append(names[kind], rec.Name)
		}
	}
	return names, removed, nil
}

// RestoreAll rebuilds the local record set from the remote mirror.
//
// Remote records are discovered per kind, deduplicated, and either update the
// matching local entity by identity or create a new one preserving the
// remote-assigned identity. Recordings are restored first so transcript and
// summary foreign keys find their owner. Finding zero content records of any
// kind is an error, never a silent empty success.
func (r *Runner) RestoreAll(ctx context.Context) (*RestoreResult, error) {
	byKind := make(map[model.Kind][]*record.Remote, len(model.Kinds))
	total := 0
	for _, kind := range model.Kinds {
		recs, err := r.lister.ListRecords(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("listing %s records: %w", kind, err)
		}
		byKind[kind] = recs
		total += len(recs)
	}

	if total == 0 {
		accountErr := r.store.AccountStatus(ctx)
		return nil, &IncompleteRestoreError{AccountReachable: accountErr == nil}
	}

	result := &RestoreResult{}
	for _, kind := range model.Kinds {
		kept, discarded := conflict.LatestPerEntity(byKind[kind], conflict.OwnerKey, record.TimestampFields)
		for _, name := range discarded {
			if err := remote.DeleteWithRetry(ctx, r.store, name, r.log); err != nil {
				r.log.Warn("could not delete duplicate during restore", "record", name, "error", err)
				continue
			}
			result.DuplicatesRemoved++
		}

		restored := 0
		for _, rec := range kept {
			e, err := record.FromRemote(rec)
			if err != nil {
				// A single malformed record must not abort the restore.
				r.log.Warn("skipping undecodable record", "record", rec.Name, "error", err)
				result.DecodeFailures++
				continue
			}
			if err := r.local.Save(ctx, e); err != nil {
				return nil, fmt.Errorf("restoring %s: %w", rec.Name, err)
			}
			restored++
		}

		switch kind {
		case model.KindRecording:
			result.RecordingsRestored = restored
		case model.KindTranscript:
			result.TranscriptsRestored = restored
		case model.KindSummary:
			result.SummariesRestored = restored
		}
	}

	r.log.Info("restore complete",
		"recordings", result.RecordingsRestored,
		"transcripts", result.TranscriptsRestored,
		"summaries", result.SummariesRestored,
		"duplicates_removed", result.DuplicatesRemoved,
		"decode_failures", result.DecodeFailures,
	)
	return result, nil
}

// ResetAndResync deletes every remote record and re-uploads the full local
// snapshot. Enumeration uses the zone change feed directly because the index
// and query tiers may be untrustworthy in the corrupted state this recovers
// from. Destructive; callers must confirm with the user first.
func (r *Runner) ResetAndResync(ctx context.Context, opts signature.Options) (deleted, uploaded int, err error) {
	var names []string
	err = r.store.ZoneChanges(ctx, func(rec *record.Remote) error {
		names = append(names, rec.Name)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("enumerating remote records: %w", err)
	}

	for _, name := range names {
		if err := remote.DeleteWithRetry(ctx, r.store, name, r.log); err != nil {
			return deleted, 0, fmt.Errorf("deleting %s: %w", name, err)
		}
		deleted++
	}

	// Clear the stored signature so the upload cannot short-circuit.
	if err := r.meta.SetMeta(ctx, localstore.MetaBackupSignature, ""); err != nil {
		return deleted, 0, fmt.Errorf("clearing backup signature: %w", err)
	}

	result, err := r.BackupAll(ctx, opts)
	if err != nil {
		return deleted, 0, err
	}

	r.log.Info("reset and resync complete", "deleted", deleted, "uploaded", result.Total())
	return deleted, result.Total(), nil
}
