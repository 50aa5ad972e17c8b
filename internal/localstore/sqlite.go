package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/voxlog/voxsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL DEFAULT '',
    notes         TEXT NOT NULL DEFAULT '',
    duration      REAL NOT NULL DEFAULT 0,
    audio_path    TEXT NOT NULL DEFAULT '',
    audio_size    INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transcripts (
    id            TEXT PRIMARY KEY,
    recording_id  TEXT NOT NULL DEFAULT '',
    body          TEXT NOT NULL DEFAULT '',
    language      TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS summaries (
    id            TEXT PRIMARY KEY,
    recording_id  TEXT NOT NULL DEFAULT '',
    overview      TEXT NOT NULL DEFAULT '',
    tasks         TEXT NOT NULL DEFAULT '[]',
    reminders     TEXT NOT NULL DEFAULT '[]',
    titles        TEXT NOT NULL DEFAULT '[]',
    created_at    TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_transcripts_recording ON transcripts (recording_id);
CREATE INDEX IF NOT EXISTS idx_summaries_recording   ON summaries (recording_id);
`

// SQLite is the SQLite-backed implementation of [Store] and [MetaStore].
type SQLite struct {
	db *sql.DB
}

// DefaultDBPath returns the default database location:
// ~/.local/share/voxsync/voxsync.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "voxsync", "voxsync.db"), nil
}

// Open opens (or creates) the database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetAll implements Store.GetAll.
func (s *SQLite) GetAll(ctx context.Context, kind model.Kind) ([]model.Entity, error) {
	switch kind {
	case model.KindRecording:
		return s.queryRecordings(ctx, `SELECT id, title, notes, duration, audio_path, audio_size, created_at, last_modified FROM recordings`)
	case model.KindTranscript:
		return s.queryTranscripts(ctx, `SELECT id, recording_id, body, language, created_at, last_modified FROM transcripts`)
	case model.KindSummary:
		return s.querySummaries(ctx, `SELECT id, recording_id, overview, tasks, reminders, titles, created_at, last_modified FROM summaries`)
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

// Get implements Store.Get.
func (s *SQLite) Get(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Entity, error) {
	all, err := s.getFiltered(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (s *SQLite) getFiltered(ctx context.Context, kind model.Kind, id uuid.UUID) ([]model.Entity, error) {
	switch kind {
	case model.KindRecording:
		return s.queryRecordings(ctx, `SELECT id, title, notes, duration, audio_path, audio_size, created_at, last_modified FROM recordings WHERE id = ?`, id.String())
	case model.KindTranscript:
		return s.queryTranscripts(ctx, `SELECT id, recording_id, body, language, created_at, last_modified FROM transcripts WHERE id = ?`, id.String())
	case model.KindSummary:
		return s.querySummaries(ctx, `SELECT id, recording_id, overview, tasks, reminders, titles, created_at, last_modified FROM summaries WHERE id = ?`, id.String())
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

// Save implements Store.Save as an upsert keyed by entity ID.
func (s *SQLite) Save(ctx context.Context, e model.Entity) error {
	switch v := e.(type) {
	case *model.Recording:
		const q = `
			INSERT INTO recordings (id, title, notes, duration, audio_path, audio_size, created_at, last_modified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			    title         = excluded.title,
			    notes         = excluded.notes,
			    duration      = excluded.duration,
			    audio_path    = excluded.audio_path,
			    audio_size    = excluded.audio_size,
			    created_at    = excluded.created_at,
			    last_modified = excluded.last_modified`
		_, err := s.db.ExecContext(ctx, q,
			v.ID.String(), v.Title, v.Notes, v.Duration, v.AudioPath, v.AudioSize,
			formatTime(v.CreatedAt), formatTime(v.LastModified))
		if err != nil {
			return fmt.Errorf("saving recording %s: %w", v.ID, err)
		}
		return nil

	case *model.Transcript:
		const q = `
			INSERT INTO transcripts (id, recording_id, body, language, created_at, last_modified)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			    recording_id  = excluded.recording_id,
			    body          = excluded.body,
			    language      = excluded.language,
			    created_at    = excluded.created_at,
			    last_modified = excluded.last_modified`
		_, err := s.db.ExecContext(ctx, q,
			v.ID.String(), formatOwner(v.RecordingID), v.Text, v.Language,
			formatTime(v.CreatedAt), formatTime(v.LastModified))
		if err != nil {
			return fmt.Errorf("saving transcript %s: %w", v.ID, err)
		}
		return nil

	case *model.Summary:
		const q = `
			INSERT INTO summaries (id, recording_id, overview, tasks, reminders, titles, created_at, last_modified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			    recording_id  = excluded.recording_id,
			    overview      = excluded.overview,
			    tasks         = excluded.tasks,
			    reminders     = excluded.reminders,
			    titles        = excluded.titles,
			    created_at    = excluded.created_at,
			    last_modified = excluded.last_modified`
		_, err := s.db.ExecContext(ctx, q,
			v.ID.String(), formatOwner(v.RecordingID), v.Overview,
			marshalJSON(v.Tasks), marshalJSON(v.Reminders), marshalJSON(v.Titles),
			formatTime(v.CreatedAt), formatTime(v.LastModified))
		if err != nil {
			return fmt.Errorf("saving summary %s: %w", v.ID, err)
		}
		return nil
	}
	return fmt.Errorf("unsupported entity type %T", e)
}

// Delete implements Store.Delete.
func (s *SQLite) Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	table, ok := map[model.Kind]string{
		model.KindRecording:  "recordings",
		model.KindTranscript: "transcripts",
		model.KindSummary:    "summaries",
	}[kind]
	if !ok {
		return fmt.Errorf("unknown kind %q", kind)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting %s %s: %w", kind, id, err)
	}
	return nil
}

// GetMeta implements MetaStore.GetMeta.
func (s *SQLite) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta key %q: %w", key, err)
	}
	return value, nil
}

// SetMeta implements MetaStore.SetMeta.
func (s *SQLite) SetMeta(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("writing meta key %q: %w", key, err)
	}
	return nil
}

// --- row scanning ------------------------------------------------------------

func (s *SQLite) queryRecordings(ctx context.Context, q string, args ...any) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Entity
	for rows.Next() {
		var r model.Recording
		var id, created, modified string
		if err := rows.Scan(&id, &r.Title, &r.Notes, &r.Duration, &r.AudioPath, &r.AudioSize, &created, &modified); err != nil {
			return nil, fmt.Errorf("scanning recording row: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("recording row has invalid id %q: %w", id, err)
		}
		r.CreatedAt, _ = parseTime(created)
		r.LastModified, _ = parseTime(modified)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLite) queryTranscripts(ctx context.Context, q string, args ...any) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transcripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Entity
	for rows.Next() {
		var t model.Transcript
		var id, owner, created, modified string
		if err := rows.Scan(&id, &owner, &t.Text, &t.Language, &created, &modified); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("transcript row has invalid id %q: %w", id, err)
		}
		t.RecordingID = parseOwner(owner)
		t.CreatedAt, _ = parseTime(created)
		t.LastModified, _ = parseTime(modified)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLite) querySummaries(ctx context.Context, q string, args ...any) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Entity
	for rows.Next() {
		var sm model.Summary
		var id, owner, tasks, reminders, titles, created, modified string
		if err := rows.Scan(&id, &owner, &sm.Overview, &tasks, &reminders, &titles, &created, &modified); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		if sm.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("summary row has invalid id %q: %w", id, err)
		}
		sm.RecordingID = parseOwner(owner)
		unmarshalJSON(tasks, &sm.Tasks)
		unmarshalJSON(reminders, &sm.Reminders)
		unmarshalJSON(titles, &sm.Titles)
		sm.CreatedAt, _ = parseTime(created)
		sm.LastModified, _ = parseTime(modified)
		out = append(out, &sm)
	}
	return out, rows.Err()
}

// --- helpers -----------------------------------------------------------------

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func formatOwner(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func parseOwner(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalJSON[T any](s string, dst *[]T) {
	if s == "" || s == "null" {
		return
	}
	var list []T
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return
	}
	if len(list) > 0 {
		*dst = list
	}
}
