// Package localstore manages the SQLite database holding the local record
// store (recordings, transcripts, summaries) and the engine's persisted
// scalar state.
//
// Only this package may open or query the database. All other packages
// receive the interfaces below and call their methods. Local reads and writes
// are synchronous and not subject to network failure modes.
package localstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/model"
)

// Store is the local typed record store. Get returns (nil, nil) for an absent
// record.
type Store interface {
	GetAll(ctx context.Context, kind model.Kind) ([]model.Entity, error)
	Get(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Entity, error)
	Save(ctx context.Context, e model.Entity) error
	Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error
}

// MetaStore persists the engine's scalar state: simple key/value pairs, not a
// structured file format. Get returns "" for an unset key.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Well-known meta keys.
const (
	// MetaLastSyncAt is the RFC 3339 timestamp of the last successful sync.
	MetaLastSyncAt = "last_sync_at"
	// MetaBackupSignature is the content digest of the last successful backup.
	MetaBackupSignature = "backup_signature"
	// MetaAutoSyncMode records the auto-sync mode last run with, so status
	// reporting works without a readable config file.
	MetaAutoSyncMode = "auto_sync_mode"
	// MetaFullSyncOnStartup requests a full sync pass the next time the
	// daemon starts. Set after a restore so the rebuilt local state is
	// reconciled immediately.
	MetaFullSyncOnStartup = "full_sync_on_startup"
)
