package record

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/model"
)

// Wire field names. These are the stable remote schema: previously written
// records must keep decoding, so never rename or repurpose a key.
const (
	FieldID           = "id"
	FieldRecordingID  = "recordingId"
	FieldTitle        = "title"
	FieldNotes        = "notes"
	FieldDuration     = "duration"
	FieldAudioPath    = "audioPath"
	FieldAudioSize    = "audioSize"
	FieldAudioSig     = "audioSignature"
	FieldAudioData    = "audioData"
	FieldText         = "text"
	FieldLanguage     = "language"
	FieldOverview     = "overview"
	FieldTasks        = "tasks"
	FieldReminders    = "reminders"
	FieldTitles       = "titles"
	FieldCreatedAt    = "createdAt"
	FieldLastModified = "lastModified"
)

// TimestampFields lists the timestamp keys in conflict-resolution priority
// order: lastModified first, createdAt as fallback.
var TimestampFields = []string{FieldLastModified, FieldCreatedAt}

// ToRemote converts an entity to its wire projection. Pure transform; audio
// content is attached separately via AttachAudio.
func ToRemote(e model.Entity) (*Remote, error) {
	switch v := e.(type) {
	case *model.Recording:
		return RecordingToRemote(v), nil
	case *model.Transcript:
		return TranscriptToRemote(v), nil
	case *model.Summary:
		return SummaryToRemote(v), nil
	}
	return nil, fmt.Errorf("unsupported entity type %T", e)
}

// FromRemote converts a wire record back to a typed entity. Returns a
// *DecodeError when required fields are absent or mistyped; missing optional
// fields decode to defaults instead of failing the record.
func FromRemote(rec *Remote) (model.Entity, error) {
	switch rec.Type {
	case TypeRecording:
		return RecordingFromRemote(rec)
	case TypeTranscript:
		return TranscriptFromRemote(rec)
	case TypeSummary:
		return SummaryFromRemote(rec)
	}
	return nil, &DecodeError{Name: rec.Name, Field: "type", Cause: fmt.Sprintf("unknown record type %q", rec.Type)}
}

// RecordingToRemote projects a recording. Audio content is not included; only
// the file identity fields travel with the metadata record.
func RecordingToRemote(r *model.Recording) *Remote {
	rec := New(NameFor(model.KindRecording, r.ID), TypeRecording)
	rec.Fields[FieldID] = r.ID.String()
	rec.Fields[FieldTitle] = r.Title
	rec.Fields[FieldNotes] = r.Notes
	rec.Fields[FieldDuration] = r.Duration
	rec.Fields[FieldAudioPath] = r.AudioPath
	rec.Fields[FieldAudioSize] = r.AudioSize
	setTime(rec, FieldCreatedAt, r.CreatedAt)
	setTime(rec, FieldLastModified, r.LastModified)
	return rec
}

// RecordingFromRemote decodes a recording record.
func RecordingFromRemote(rec *Remote) (*model.Recording, error) {
	id, err := requireID(rec)
	if err != nil {
		return nil, err
	}

	r := &model.Recording{ID: id}
	if r.Title, err = rec.String(FieldTitle); err != nil {
		return nil, err
	}
	if r.Notes, err = rec.String(FieldNotes); err != nil {
		return nil, err
	}
	if r.Duration, err = rec.Float64(FieldDuration); err != nil {
		return nil, err
	}
	if r.AudioPath, err = rec.String(FieldAudioPath); err != nil {
		return nil, err
	}
	if r.AudioSize, err = rec.Int64(FieldAudioSize); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = rec.Time(FieldCreatedAt); err != nil {
		return nil, err
	}
	if r.LastModified, err = rec.Time(FieldLastModified); err != nil {
		return nil, err
	}
	return r, nil
}

// TranscriptToRemote projects a transcript.
func TranscriptToRemote(t *model.Transcript) *Remote {
	rec := New(NameFor(model.KindTranscript, t.ID), TypeTranscript)
	rec.Fields[FieldID] = t.ID.String()
	setOwner(rec, t.RecordingID)
	rec.Fields[FieldText] = t.Text
	rec.Fields[FieldLanguage] = t.Language
	setTime(rec, FieldCreatedAt, t.CreatedAt)
	setTime(rec, FieldLastModified, t.LastModified)
	return rec
}

// TranscriptFromRemote decodes a transcript record.
func TranscriptFromRemote(rec *Remote) (*model.Transcript, error) {
	id, err := requireID(rec)
	if err != nil {
		return nil, err
	}

	t := &model.Transcript{ID: id}
	if t.RecordingID, err = ownerID(rec); err != nil {
		return nil, err
	}
	if t.Text, err = rec.String(FieldText); err != nil {
		return nil, err
	}
	if t.Language, err = rec.String(FieldLanguage); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = rec.Time(FieldCreatedAt); err != nil {
		return nil, err
	}
	if t.LastModified, err = rec.Time(FieldLastModified); err != nil {
		return nil, err
	}
	return t, nil
}

// SummaryToRemote projects a summary. The structured lists are JSON-encoded
// blobs so the remote schema need not understand their internal shape.
func SummaryToRemote(s *model.Summary) *Remote {
	rec := New(NameFor(model.KindSummary, s.ID), TypeSummary)
	rec.Fields[FieldID] = s.ID.String()
	setOwner(rec, s.RecordingID)
	rec.Fields[FieldOverview] = s.Overview
	rec.Fields[FieldTasks] = marshalList(s.Tasks)
	rec.Fields[FieldReminders] = marshalList(s.Reminders)
	rec.Fields[FieldTitles] = marshalList(s.Titles)
	setTime(rec, FieldCreatedAt, s.CreatedAt)
	setTime(rec, FieldLastModified, s.LastModified)
	return rec
}

// SummaryFromRemote decodes a summary record. Malformed or missing list blobs
// decode to empty lists rather than failing the whole record.
func SummaryFromRemote(rec *Remote) (*model.Summary, error) {
	id, err := requireID(rec)
	if err != nil {
		return nil, err
	}

	s := &model.Summary{ID: id}
	if s.RecordingID, err = ownerID(rec); err != nil {
		return nil, err
	}
	if s.Overview, err = rec.String(FieldOverview); err != nil {
		return nil, err
	}
	if s.Tasks, err = unmarshalList[model.Task](rec, FieldTasks); err != nil {
		return nil, err
	}
	if s.Reminders, err = unmarshalList[model.Reminder](rec, FieldReminders); err != nil {
		return nil, err
	}
	if s.Titles, err = unmarshalList[string](rec, FieldTitles); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = rec.Time(FieldCreatedAt); err != nil {
		return nil, err
	}
	if s.LastModified, err = rec.Time(FieldLastModified); err != nil {
		return nil, err
	}
	return s, nil
}

// --- Audio attachment --------------------------------------------------------

// AudioSignature returns the change-detection key for an audio file:
// "<size>:<mtime-unix-nanos>". Re-upload is skipped when the signature stored
// on the remote record matches.
func AudioSignature(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat audio file %q: %w", path, err)
	}
	return strconv.FormatInt(info.Size(), 10) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10), nil
}

// AttachAudio reads the audio file at path and attaches its content and
// signature to the record.
func AttachAudio(rec *Remote, path string) error {
	sig, err := AudioSignature(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading audio file %q: %w", path, err)
	}
	rec.Fields[FieldAudioData] = data
	rec.Fields[FieldAudioSig] = sig
	return nil
}

// --- helpers -----------------------------------------------------------------

func requireID(rec *Remote) (uuid.UUID, error) {
	s, err := rec.String(FieldID)
	if err != nil {
		return uuid.Nil, err
	}
	if s == "" {
		// Fall back to the identity embedded in the record name.
		_, id, nerr := ParseName(rec.Name)
		if nerr != nil {
			return uuid.Nil, &DecodeError{Name: rec.Name, Field: FieldID, Cause: "missing required field"}
		}
		return id, nil
	}
	id, perr := uuid.Parse(s)
	if perr != nil {
		return uuid.Nil, &DecodeError{Name: rec.Name, Field: FieldID, Cause: "not a valid uuid"}
	}
	return id, nil
}

func setOwner(rec *Remote, owner uuid.UUID) {
	if owner == uuid.Nil {
		return
	}
	rec.Fields[FieldRecordingID] = owner.String()
}

func ownerID(rec *Remote) (uuid.UUID, error) {
	s, err := rec.String(FieldRecordingID)
	if err != nil {
		return uuid.Nil, err
	}
	if s == "" {
		return uuid.Nil, nil // orphaned, persisted standalone
	}
	id, perr := uuid.Parse(s)
	if perr != nil {
		return uuid.Nil, &DecodeError{Name: rec.Name, Field: FieldRecordingID, Cause: "not a valid uuid"}
	}
	return id, nil
}

func setTime(rec *Remote, field string, t time.Time) {
	if t.IsZero() {
		return
	}
	rec.Fields[field] = t.UTC()
}

func marshalList[T any](list []T) []byte {
	if len(list) == 0 {
		return []byte("[]")
	}
	b, err := json.Marshal(list)
	if err != nil {
		// Task/Reminder/string lists cannot fail to marshal.
		return []byte("[]")
	}
	return b
}

func unmarshalList[T any](rec *Remote, field string) ([]T, error) {
	b, err := rec.Bytes(field)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var list []T
	if uerr := json.Unmarshal(b, &list); uerr != nil {
		return nil, nil // tolerate malformed blob, substitute empty list
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}
