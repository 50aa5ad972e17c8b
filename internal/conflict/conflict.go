// Package conflict decides which of two competing versions of a record wins,
// and collapses duplicate remote records down to one per logical entity.
//
// All decisions are deterministic across nodes: timestamp comparison first,
// ties broken by the lexicographically larger record name, so every device
// reaches the same answer regardless of input order.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/voxlog/voxsync/internal/record"
)

// Strategy selects how competing versions are resolved.
type Strategy string

const (
	// StrategyNewerWins keeps the version with the later modification
	// timestamp, ties broken by record name.
	StrategyNewerWins Strategy = "newer-wins"
	// StrategyLocalWins always keeps the local version.
	StrategyLocalWins Strategy = "local-wins"
	// StrategyRemoteWins always keeps the remote version.
	StrategyRemoteWins Strategy = "remote-wins"
	// StrategyManual performs no write and returns a descriptor for external
	// adjudication.
	StrategyManual Strategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyNewerWins, StrategyLocalWins, StrategyRemoteWins, StrategyManual:
		return true
	}
	return false
}

// Outcome identifies the winning side of a resolution.
type Outcome int

const (
	// WinnerLocal means the local version should be written remotely.
	WinnerLocal Outcome = iota
	// WinnerRemote means the remote version should be applied locally.
	WinnerRemote
	// PendingManual means no side won; the conflict awaits adjudication.
	PendingManual
)

// String returns a human-readable label for the outcome.
func (o Outcome) String() string {
	switch o {
	case WinnerLocal:
		return "local"
	case WinnerRemote:
		return "remote"
	case PendingManual:
		return "pending-manual"
	default:
		return "unknown"
	}
}

// Descriptor describes an unresolved conflict for external adjudication.
// Reason is telemetry only; it does not change resolution outcome.
type Descriptor struct {
	RecordName     string
	Reason         string
	LocalModified  time.Time
	RemoteModified time.Time
}

// Resolution is the outcome of resolving one local/remote pair.
type Resolution struct {
	Outcome Outcome

	// Winner is the surviving record. Nil when Outcome is PendingManual.
	Winner *record.Remote

	// Conflict carries the descriptor when Outcome is PendingManual.
	Conflict *Descriptor
}

// Resolve decides between the local and remote projection of the same logical
// entity. Both sides must be non-nil.
//
// Pre-check: when the two are field-equal on all significant fields (timestamps
// excluded), timestamp drift alone is not a conflict and local wins without a
// descriptor.
func Resolve(local, remote *record.Remote, strategy Strategy) (Resolution, error) {
	if record.FieldsEqual(local, remote, record.TimestampFields...) {
		return Resolution{Outcome: WinnerLocal, Winner: local}, nil
	}

	switch strategy {
	case StrategyLocalWins:
		return Resolution{Outcome: WinnerLocal, Winner: local}, nil

	case StrategyRemoteWins:
		return Resolution{Outcome: WinnerRemote, Winner: remote}, nil

	case StrategyNewerWins:
		if newer(local, remote) {
			return Resolution{Outcome: WinnerLocal, Winner: local}, nil
		}
		return Resolution{Outcome: WinnerRemote, Winner: remote}, nil

	case StrategyManual:
		lm := recordTime(local)
		rm := recordTime(remote)
		return Resolution{
			Outcome: PendingManual,
			Conflict: &Descriptor{
				RecordName:     local.Name,
				Reason:         classify(local, remote),
				LocalModified:  lm,
				RemoteModified: rm,
			},
		}, nil
	}

	return Resolution{}, fmt.Errorf("unknown conflict strategy %q", strategy)
}

// newer reports whether a beats b: later timestamp wins, equal timestamps fall
// back to the larger record name so the order is total.
func newer(a, b *record.Remote) bool {
	at, bt := recordTime(a), recordTime(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.Name > b.Name
}

// recordTime extracts the resolution timestamp, checking the timestamp fields
// in priority order.
func recordTime(rec *record.Remote) time.Time {
	for _, field := range record.TimestampFields {
		t, err := rec.Time(field)
		if err == nil && !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// classify labels the conflict for the manual-resolution surface. Telemetry
// only.
func classify(local, remote *record.Remote) string {
	if recordTime(local).Equal(recordTime(remote)) {
		return "content"
	}
	return "content+timestamp"
}

// --- Latest-per-entity dedup -------------------------------------------------

// GroupKeyFunc derives the logical-owner key for a remote record, e.g. the
// recordingId field for transcripts so all transcript copies of one recording
// form a single group.
type GroupKeyFunc func(*record.Remote) string

// LatestPerEntity groups records by logical owner and keeps exactly one per
// group: the record whose timestamp, checked in timestampPriority order, is
// the latest, ties broken by the larger record name. It returns the kept
// records (sorted by group key, so output is order-independent) and the names
// of every discarded duplicate, for deletion.
func LatestPerEntity(records []*record.Remote, groupKey GroupKeyFunc, timestampPriority []string) (kept []*record.Remote, discarded []string) {
	best := make(map[string]*record.Remote)
	for _, rec := range records {
		key := groupKey(rec)
		cur, ok := best[key]
		if !ok || laterByPriority(rec, cur, timestampPriority) {
			if ok {
				discarded = append(discarded, cur.Name)
			}
			best[key] = rec
			continue
		}
		discarded = append(discarded, rec.Name)
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kept = append(kept, best[k])
	}
	sort.Strings(discarded)
	return kept, discarded
}

// OwnerKey is the standard GroupKeyFunc: the recordingId field when present
// (transcripts/summaries group under their recording), otherwise the record's
// own name (recordings and orphans are their own group).
func OwnerKey(rec *record.Remote) string {
	owner, err := rec.String("recordingId")
	if err == nil && owner != "" {
		return rec.Type + ":" + owner
	}
	return rec.Type + ":" + rec.Name
}

// laterByPriority reports whether a beats b using the first timestamp field
// present on either record, falling back through the priority list, then the
// record-name tie-break.
func laterByPriority(a, b *record.Remote, priority []string) bool {
	for _, field := range priority {
		at, aerr := a.Time(field)
		bt, berr := b.Time(field)
		if aerr != nil || berr != nil {
			continue
		}
		if at.IsZero() && bt.IsZero() {
			continue
		}
		if !at.Equal(bt) {
			return at.After(bt)
		}
		// Equal and set: fall through to the name tie-break.
		break
	}
	return a.Name > b.Name
}
