// Package signature computes a stable content digest over a set of syncable
// entities. The digest answers "did anything change since the last sync?"
// without a network round trip: the backup path stores the digest of the last
// successful run and skips the entire pass when it matches.
package signature

import (
	"sort"
	"strconv"
	"time"

	"github.com/voxlog/voxsync/internal/model"
)

// Options are the flags that influence what a backup would upload. They are
// folded into the digest so that toggling a flag invalidates the stored
// signature even when no entity changed.
type Options struct {
	IncludeAudioFiles        bool
	IncludeSettings          bool
	IncludeSensitiveSettings bool
}

// FNV-1a 64-bit parameters.
const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

// sep separates folded fields so that adjacent fields cannot collide by
// concatenation ("ab","c" vs "a","bc").
const sep byte = 0x1f

type accumulator struct {
	h uint64
}

func newAccumulator() *accumulator {
	return &accumulator{h: fnvOffset}
}

func (a *accumulator) fold(s string) {
	for i := 0; i < len(s); i++ {
		a.h ^= uint64(s[i])
		a.h *= fnvPrime
	}
	a.h ^= uint64(sep)
	a.h *= fnvPrime
}

func (a *accumulator) foldBool(b bool) {
	a.fold(strconv.FormatBool(b))
}

func (a *accumulator) foldInt(n int64) {
	a.fold(strconv.FormatInt(n, 10))
}

func (a *accumulator) foldFloat(f float64) {
	a.fold(strconv.FormatFloat(f, 'g', -1, 64))
}

func (a *accumulator) foldTime(t time.Time) {
	if t.IsZero() {
		a.fold("")
		return
	}
	a.fold(t.UTC().Format(time.RFC3339Nano))
}

// Compute returns the digest of the entity set under the given options as a
// 16-character hex string. The result is independent of input order: entities
// are folded sorted by ID. Single pass, no I/O.
func Compute(entities []model.Entity, opts Options) string {
	sorted := make([]model.Entity, len(entities))
	copy(sorted, entities)
	sortByID(sorted)

	acc := newAccumulator()
	acc.foldBool(opts.IncludeAudioFiles)
	acc.foldBool(opts.IncludeSettings)
	acc.foldBool(opts.IncludeSensitiveSettings)

	for _, e := range sorted {
		foldEntity(acc, e)
	}

	return strconv.FormatUint(acc.h, 16)
}

// foldEntity folds every field that would require a remote write, in a fixed
// per-kind order.
func foldEntity(acc *accumulator, e model.Entity) {
	acc.fold(string(e.EntityKind()))
	acc.fold(e.EntityID().String())

	switch v := e.(type) {
	case *model.Recording:
		acc.fold(v.Title)
		acc.fold(v.Notes)
		acc.foldFloat(v.Duration)
		acc.fold(v.AudioPath)
		acc.foldInt(v.AudioSize)
		acc.foldTime(v.CreatedAt)
		acc.foldTime(v.LastModified)

	case *model.Transcript:
		acc.fold(v.RecordingID.String())
		acc.fold(v.Text)
		acc.fold(v.Language)
		acc.foldTime(v.CreatedAt)
		acc.foldTime(v.LastModified)

	case *model.Summary:
		acc.fold(v.RecordingID.String())
		acc.fold(v.Overview)
		acc.foldInt(int64(len(v.Tasks)))
		for _, t := range v.Tasks {
			acc.fold(t.Text)
			acc.foldBool(t.Done)
		}
		acc.foldInt(int64(len(v.Reminders)))
		for _, r := range v.Reminders {
			acc.fold(r.Text)
			acc.foldTime(r.At)
		}
		acc.foldInt(int64(len(v.Titles)))
		for _, t := range v.Titles {
			acc.fold(t)
		}
		acc.foldTime(v.CreatedAt)
		acc.foldTime(v.LastModified)
	}
}

// sortByID orders entities by kind then ID so the fold order is deterministic.
func sortByID(entities []model.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].EntityKind() != entities[j].EntityKind() {
			return entities[i].EntityKind() < entities[j].EntityKind()
		}
		return entities[i].EntityID().String() < entities[j].EntityID().String()
	})
}
