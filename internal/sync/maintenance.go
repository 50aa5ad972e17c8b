package sync

import (
	"context"
	"fmt"

	"github.com/voxlog/voxsync/internal/backup"
)

// ErrMaintenanceActive is returned when a second full backup or restore is
// requested while one is already running.
var ErrMaintenanceActive = fmt.Errorf("a backup or restore is already in progress")

// beginMaintenance sets the mutual-exclusion flag so concurrent heartbeat
// and queued syncs skip until the full operation finishes.
func (o *Orchestrator) beginMaintenance() error {
	if o.backups == nil {
		return fmt.Errorf("backup runner not configured")
	}
	if !o.maintenance.CompareAndSwap(false, true) {
		return ErrMaintenanceActive
	}
	return nil
}

func (o *Orchestrator) endMaintenance() {
	o.maintenance.Store(false)
}

// BackupAll runs a full-snapshot backup while holding the maintenance flag.
func (o *Orchestrator) BackupAll(ctx context.Context) (*backup.Result, error) {
	if err := o.beginMaintenance(); err != nil {
		return nil, err
	}
	defer o.endMaintenance()
	return o.backups.BackupAll(ctx, o.cfg.Backup)
}

// RestoreAll rebuilds local state from the remote mirror while holding the
// maintenance flag.
func (o *Orchestrator) RestoreAll(ctx context.Context) (*backup.RestoreResult, error) {
	if err := o.beginMaintenance(); err != nil {
		return nil, err
	}
	defer o.endMaintenance()
	return o.backups.RestoreAll(ctx)
}

// ResetAndResync deletes all remote records and re-uploads the local
// snapshot. Destructive; callers must confirm with the user first.
func (o *Orchestrator) ResetAndResync(ctx context.Context) (deleted, uploaded int, err error) {
	if err := o.beginMaintenance(); err != nil {
		return 0, 0, err
	}
	defer o.endMaintenance()
	return o.backups.ResetAndResync(ctx, o.cfg.Backup)
}
