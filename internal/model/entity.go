// Package model defines the syncable record types shared between the local
// store, the record codec, and the sync engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the three syncable record kinds.
type Kind string

const (
	// KindRecording is a captured audio recording with its metadata.
	KindRecording Kind = "recording"
	// KindTranscript is the transcription text of a recording.
	KindTranscript Kind = "transcript"
	// KindSummary is the AI-generated summary of a recording.
	KindSummary Kind = "summary"
)

// Kinds lists all syncable kinds in the order they are processed:
// recordings first so that foreign keys resolve during restore.
var Kinds = []Kind{KindRecording, KindTranscript, KindSummary}

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRecording, KindTranscript, KindSummary:
		return true
	}
	return false
}

// Entity is implemented by all three syncable record types.
type Entity interface {
	// EntityID returns the stable primary identity, assigned at creation.
	EntityID() uuid.UUID

	// EntityKind returns the record kind.
	EntityKind() Kind

	// EffectiveModified returns the timestamp used for conflict resolution:
	// LastModified when set, otherwise CreatedAt, otherwise the zero time
	// (callers that need a generation timestamp stamp CreatedAt themselves).
	EffectiveModified() time.Time
}

// Recording is a captured audio recording.
type Recording struct {
	ID    uuid.UUID
	Title string
	Notes string

	// Duration is the audio length in seconds.
	Duration float64

	// AudioPath is the local path of the captured audio file. Empty when the
	// recording has no audio on this device (e.g. restored metadata-only).
	AudioPath string

	// AudioSize is the audio file size in bytes, maintained by the capture
	// pipeline. Part of the change-detection signature.
	AudioSize int64

	CreatedAt    time.Time
	LastModified time.Time
}

func (r *Recording) EntityID() uuid.UUID { return r.ID }
func (r *Recording) EntityKind() Kind    { return KindRecording }
func (r *Recording) EffectiveModified() time.Time {
	return effectiveModified(r.LastModified, r.CreatedAt)
}

// Transcript is the transcription of a recording. RecordingID may be uuid.Nil
// when the owning recording is unknown; such orphans are still synced standalone.
type Transcript struct {
	ID          uuid.UUID
	RecordingID uuid.UUID
	Text        string
	Language    string

	CreatedAt    time.Time
	LastModified time.Time
}

func (t *Transcript) EntityID() uuid.UUID { return t.ID }
func (t *Transcript) EntityKind() Kind    { return KindTranscript }
func (t *Transcript) EffectiveModified() time.Time {
	return effectiveModified(t.LastModified, t.CreatedAt)
}

// Task is a single AI-extracted action item inside a summary.
type Task struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Reminder is a single AI-extracted reminder inside a summary. At is the zero
// time when the reminder has no date.
type Reminder struct {
	Text string    `json:"text"`
	At   time.Time `json:"at,omitzero"`
}

// Summary is the AI-generated summary of a recording, including the structured
// lists (tasks, reminders, suggested titles) that are stored as serialized
// blobs on the remote side.
type Summary struct {
	ID          uuid.UUID
	RecordingID uuid.UUID
	Overview    string
	Tasks       []Task
	Reminders   []Reminder
	Titles      []string

	CreatedAt    time.Time
	LastModified time.Time
}

func (s *Summary) EntityID() uuid.UUID { return s.ID }
func (s *Summary) EntityKind() Kind    { return KindSummary }
func (s *Summary) EffectiveModified() time.Time {
	return effectiveModified(s.LastModified, s.CreatedAt)
}

func effectiveModified(lastModified, createdAt time.Time) time.Time {
	if !lastModified.IsZero() {
		return lastModified
	}
	return createdAt
}
