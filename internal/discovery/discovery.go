// Package discovery locates remote content records despite a degraded or
// incomplete remote query capability. Listing is tiered: content index first
// (cheap point-reads), then a best-effort filtered query, then the zone change
// feed (expensive but complete), with one-shot schema self-provisioning when
// the record type is unknown to the remote store.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/model"
	"github.com/voxlog/voxsync/internal/record"
	"github.com/voxlog/voxsync/internal/remote"
)

// Lister finds remote records of a given kind.
type Lister struct {
	store remote.Store
	log   *slog.Logger
}

// NewLister creates a Lister over the given remote store.
func NewLister(store remote.Store, logger *slog.Logger) *Lister {
	return &Lister{store: store, log: logger}
}

// ListRecords returns every remote record of the kind, deduplicated by record
// name. Each tier is attempted only when the previous one yields nothing or
// fails with a recoverable error; non-recoverable errors (account, permanent)
// propagate immediately without exhausting the remaining tiers.
func (l *Lister) ListRecords(ctx context.Context, kind model.Kind) ([]*record.Remote, error) {
	recs, err := l.listOnce(ctx, kind)
	if err == nil || !remote.IsKind(err, remote.KindUnknownType) {
		return recs, err
	}

	// Unknown record type: the remote schema has never seen this kind.
	// Provision it and retry once; a second failure propagates as permanent.
	l.log.Info("record type unknown to remote store, provisioning schema", "kind", kind)
	if perr := l.Provision(ctx, kind); perr != nil {
		return nil, fmt.Errorf("provisioning schema for %s: %w", kind, perr)
	}
	recs, err = l.listOnce(ctx, kind)
	if remote.IsKind(err, remote.KindUnknownType) {
		return nil, &remote.StoreError{Kind: remote.KindPermanent, Msg: fmt.Sprintf("record type %s still unknown after provisioning", kind)}
	}
	return recs, err
}

func (l *Lister) listOnce(ctx context.Context, kind model.Kind) ([]*record.Remote, error) {
	// Tier 1: content index, then point-reads by name.
	recs, err := l.listViaIndex(ctx, kind)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		l.log.Debug("index tier failed, falling back", "kind", kind, "error", err)
	}
	if len(recs) > 0 {
		return dedupe(recs), nil
	}

	// Tier 2: best-effort filtered query.
	recs, err = l.store.Query(ctx, record.TypeFor(kind))
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		l.log.Debug("query tier failed, falling back to zone walk", "kind", kind, "error", err)
	}
	if len(recs) > 0 {
		return dedupe(recs), nil
	}

	// Tier 3: full zone walk, filtered client-side by record type. Complete
	// even when no query index exists.
	recs = nil
	err = l.store.ZoneChanges(ctx, func(rec *record.Remote) error {
		if rec.Type == record.TypeFor(kind) {
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dedupe(recs), nil
}

// listViaIndex reads the content index and fetches each named record.
// Names that no longer resolve are skipped; the index is advisory.
func (l *Lister) listViaIndex(ctx context.Context, kind model.Kind) ([]*record.Remote, error) {
	ci, err := l.ReadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if ci == nil {
		return nil, nil
	}

	var recs []*record.Remote
	for _, name := range ci.Names(kind) {
		rec, ferr := l.store.Fetch(ctx, name)
		if ferr != nil {
			if fatal(ferr) {
				return nil, ferr
			}
			l.log.Debug("indexed record fetch failed", "record", name, "error", ferr)
			continue
		}
		if rec == nil {
			l.log.Debug("index names a missing record", "record", name)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ReadIndex fetches and decodes the content index, or (nil, nil) when none
// has been written yet.
func (l *Lister) ReadIndex(ctx context.Context) (*record.ContentIndex, error) {
	rec, err := l.store.Fetch(ctx, record.IndexName)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	ci, err := record.IndexFromRemote(rec)
	if err != nil {
		l.log.Warn("content index is malformed, ignoring", "error", err)
		return nil, nil
	}
	return ci, nil
}

// WriteIndex rewrites the content index with the authoritative name sets.
func (l *Lister) WriteIndex(ctx context.Context, names map[model.Kind][]string) error {
	ci := &record.ContentIndex{UpdatedAt: time.Now().UTC()}
	for kind, ns := range names {
		ci.Set(kind, ns)
	}
	if _, err := remote.SaveWithRetry(ctx, l.store, record.IndexToRemote(ci), l.log); err != nil {
		return fmt.Errorf("writing content index: %w", err)
	}
	return nil
}

// HasContent reports whether the remote holds at least one content record of
// any kind, checking the index first and falling back to the change feed.
func (l *Lister) HasContent(ctx context.Context) (bool, error) {
	ci, err := l.ReadIndex(ctx)
	if err == nil && ci != nil && !ci.IsEmpty() {
		return true, nil
	}
	if err != nil && fatal(err) {
		return false, err
	}

	werr := l.store.ZoneChanges(ctx, func(rec *record.Remote) error {
		if _, ok := record.KindForType(rec.Type); ok {
			return errStopWalk
		}
		return nil
	})
	if errors.Is(werr, errStopWalk) {
		return true, nil
	}
	return false, werr
}

var errStopWalk = errors.New("stop walk")

// Provision performs schema self-provisioning: saving a fully-populated
// placeholder record teaches the remote store every field of the type, and
// the immediate delete leaves no user-visible residue.
func (l *Lister) Provision(ctx context.Context, kind model.Kind) error {
	placeholder, err := record.ToRemote(placeholderEntity(kind))
	if err != nil {
		return err
	}

	if _, err := l.store.Save(ctx, placeholder); err != nil {
		return fmt.Errorf("saving placeholder %s record: %w", kind, err)
	}
	if err := l.store.Delete(ctx, placeholder.Name); err != nil && !remote.IsKind(err, remote.KindNotFound) {
		return fmt.Errorf("deleting placeholder %s record: %w", kind, err)
	}
	return nil
}

// placeholderEntity returns an entity with every field populated so the
// provisioned schema carries all keys of the wire format.
func placeholderEntity(kind model.Kind) model.Entity {
	now := time.Now().UTC()
	id := uuid.New()
	switch kind {
	case model.KindTranscript:
		return &model.Transcript{
			ID:          id,
			RecordingID: uuid.New(),
			Text:        "schema placeholder",
			Language:    "en",
			CreatedAt:   now,
			LastModified: now,
		}
	case model.KindSummary:
		return &model.Summary{
			ID:          id,
			RecordingID: uuid.New(),
			Overview:    "schema placeholder",
			Tasks:       []model.Task{{Text: "placeholder"}},
			Reminders:   []model.Reminder{{Text: "placeholder", At: now}},
			Titles:      []string{"placeholder"},
			CreatedAt:   now,
			LastModified: now,
		}
	default:
		return &model.Recording{
			ID:           id,
			Title:        "schema placeholder",
			Notes:        "schema placeholder",
			Duration:     1,
			AudioPath:    "placeholder.m4a",
			AudioSize:    1,
			CreatedAt:    now,
			LastModified: now,
		}
	}
}

// fatal reports whether a tier error must propagate immediately instead of
// falling through to the next tier.
func fatal(err error) bool {
	switch remote.KindOf(err) {
	case remote.KindAccount, remote.KindPermanent, remote.KindUnavailable, remote.KindUnknownType:
		return true
	}
	return false
}

// dedupe drops records sharing a name, keeping the first occurrence.
func dedupe(recs []*record.Remote) []*record.Remote {
	seen := make(map[string]bool, len(recs))
	out := recs[:0]
	for _, rec := range recs {
		if seen[rec.Name] {
			continue
		}
		seen[rec.Name] = true
		out = append(out, rec)
	}
	return out
}
