package sync

import "time"

// Status is the orchestrator's coarse operation state.
type Status string

const (
	StatusDisabled  Status = "disabled"
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is a point-in-time snapshot of the orchestrator, safe to hand to
// observers. Reason is a human-readable cause string, set only when Status
// is StatusFailed.
type State struct {
	Status     Status
	Reason     string
	Pending    int
	InFlight   int
	LastSyncAt time.Time
}

// Stats counts the outcomes of one or more batch passes.
type Stats struct {
	Synced    int
	Failed    int
	Skipped   int
	Conflicts int
}

func (s *Stats) add(o Stats) {
	s.Synced += o.Synced
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Conflicts += o.Conflicts
}

// EventType identifies what an Event reports.
type EventType string

const (
	EventBatchStarted  EventType = "batch-started"
	EventItemSynced    EventType = "item-synced"
	EventItemFailed    EventType = "item-failed"
	EventItemConflict  EventType = "item-conflict"
	EventBatchFinished EventType = "batch-finished"
	EventStatusChanged EventType = "status-changed"
)

// Event is one entry in the orchestrator's observer stream. Callers that
// need sync progress subscribe to [Orchestrator.Events] instead of holding
// a back-reference into the engine.
type Event struct {
	Type       EventType
	RecordName string
	Status     Status
	Synced     int
	Failed     int
	Remaining  int
	Err        string
}
