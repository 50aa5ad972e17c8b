package backup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/discovery"
	"github.com/voxlog/voxsync/internal/localstore"
	"github.com/voxlog/voxsync/internal/model"
	"github.com/voxlog/voxsync/internal/record"
	"github.com/voxlog/voxsync/internal/remote"
	"github.com/voxlog/voxsync/internal/signature"
)

var testLogger = slog.Default()

func newRunner(local *memLocal, store *remote.MemStore) *Runner {
	return NewRunner(local, local, store, discovery.NewLister(store, testLogger), testLogger)
}

func seedRecordings(local *memLocal, n int) {
	created := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		r := &model.Recording{
			ID:           uuid.New(),
			Title:        "Recording " + string(rune('A'+i)),
			Duration:     float64(30 + i),
			CreatedAt:    created,
			LastModified: created.Add(time.Duration(i) * time.Minute),
		}
		local.entities[model.KindRecording][r.ID] = r
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: clean upload of 3 recordings into an empty remote
// ---------------------------------------------------------------------------

func TestBackupAll_CleanUpload(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	seedRecordings(local, 3)

	result, err := newRunner(local, store).BackupAll(context.Background(), signature.Options{})
	if err != nil {
		t.Fatalf("BackupAll: %v", err)
	}

	if result.SkippedNoChanges {
		t.Error("first backup reported skipped")
	}
	if result.RecordingsBackedUp != 3 {
		t.Errorf("RecordingsBackedUp = %d, want 3", result.RecordingsBackedUp)
	}

	recs, err := store.Query(context.Background(), record.TypeRecording)
	if err != nil || len(recs) != 3 {
		t.Errorf("remote recordings = %d (err %v), want 3", len(recs), err)
	}

	// The content index names all three.
	ci, err := discovery.NewLister(store, testLogger).ReadIndex(context.Background())
	if err != nil || ci == nil {
		t.Fatalf("ReadIndex: ci = %v, err = %v", ci, err)
	}
	if len(ci.Names(model.KindRecording)) != 3 {
		t.Errorf("index names %d recordings, want 3", len(ci.Names(model.KindRecording)))
	}
}

// ---------------------------------------------------------------------------
// Scenario 2: unchanged snapshot skips the second backup entirely
// ---------------------------------------------------------------------------

func TestBackupAll_SignatureSkip(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	seedRecordings(local, 3)
	runner := newRunner(local, store)
	ctx := context.Background()

	if _, err := runner.BackupAll(ctx, signature.Options{}); err != nil {
		t.Fatalf("first BackupAll: %v", err)
	}
	savesAfterFirst := store.SaveCount()

	result, err := runner.BackupAll(ctx, signature.Options{})
	if err != nil {
		t.Fatalf("second BackupAll: %v", err)
	}
	if !result.SkippedNoChanges {
		t.Error("unchanged second backup was not skipped")
	}
	if store.SaveCount() != savesAfterFirst {
		t.Errorf("second backup issued %d extra saves, want 0", store.SaveCount()-savesAfterFirst)
	}

	// A local edit invalidates the signature.
	for _, e := range local.entities[model.KindRecording] {
		e.(*model.Recording).Title = "edited"
		break
	}
	result, err = runner.BackupAll(ctx, signature.Options{})
	if err != nil {
		t.Fatalf("third BackupAll: %v", err)
	}
	if result.SkippedNoChanges {
		t.Error("backup after a local edit was skipped")
	}
}

// ---------------------------------------------------------------------------
// Scenario 3: field diff writes only records whose content changed
// ---------------------------------------------------------------------------

func TestBackupAll_FieldDiff(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	seedRecordings(local, 3)
	runner := newRunner(local, store)
	ctx := context.Background()

	if _, err := runner.BackupAll(ctx, signature.Options{}); err != nil {
		t.Fatalf("first BackupAll: %v", err)
	}

	// Force a re-run despite identical content by wiping the stored digest.
	local.meta[localstore.MetaBackupSignature] = ""
	savesBefore := store.SaveCount()

	result, err := runner.BackupAll(ctx, signature.Options{})
	if err != nil {
		t.Fatalf("second BackupAll: %v", err)
	}
	if result.SkippedNoChanges {
		t.Fatal("run with a cleared digest must not skip")
	}
	if result.RecordingsBackedUp != 3 {
		t.Errorf("RecordingsBackedUp = %d, want 3", result.RecordingsBackedUp)
	}

	// Only the index rewrite hits the store; all content matched field-for-field.
	if got := store.SaveCount() - savesBefore; got != 1 {
		t.Errorf("saves = %d, want 1 (index rewrite only)", got)
	}
}

// ---------------------------------------------------------------------------
// Scenario 4: audio upload keyed by file signature
// ---------------------------------------------------------------------------

func TestBackupAll_AudioSignatureSkip(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	runner := newRunner(local, store)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "take1.m4a")
	if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
		t.Fatal(err)
	}
	r := &model.Recording{
		ID:        uuid.New(),
		Title:     "With audio",
		AudioPath: path,
		AudioSize: 5,
		CreatedAt: time.Now().UTC(),
	}
	local.entities[model.KindRecording][r.ID] = r

	opts := signature.Options{IncludeAudioFiles: true}
	result, err := runner.BackupAll(ctx, opts)
	if err != nil {
		t.Fatalf("first BackupAll: %v", err)
	}
	if result.FilesUploaded != 1 || result.FilesSkipped != 0 {
		t.Errorf("uploads = %d, skips = %d, want 1/0", result.FilesUploaded, result.FilesSkipped)
	}

	// Unchanged file: the remote's stored signature matches, no re-upload.
	local.meta[localstore.MetaBackupSignature] = ""
	result, err = runner.BackupAll(ctx, opts)
	if err != nil {
		t.Fatalf("second BackupAll: %v", err)
	}
	if result.FilesUploaded != 0 || result.FilesSkipped != 1 {
		t.Errorf("uploads = %d, skips = %d, want 0/1", result.FilesUploaded, result.FilesSkipped)
	}
}

// ---------------------------------------------------------------------------
// Scenario 5: entities without identity get one, persisted before upload
// ---------------------------------------------------------------------------

func TestBackupAll_AssignsMissingIdentity(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()

	r := &model.Recording{Title: "no id yet"}
	local.entities[model.KindRecording][uuid.Nil] = r

	result, err := newRunner(local, store).BackupAll(context.Background(), signature.Options{})
	if err != nil {
		t.Fatalf("BackupAll: %v", err)
	}
	if result.RecordingsBackedUp != 1 {
		t.Errorf("RecordingsBackedUp = %d, want 1", result.RecordingsBackedUp)
	}
	if r.ID == uuid.Nil {
		t.Error("identity was not assigned")
	}
	if r.CreatedAt.IsZero() {
		t.Error("generation timestamp was not stamped")
	}
	if _, ok := local.entities[model.KindRecording][r.ID]; !ok {
		t.Error("assignment was not persisted locally")
	}
}

// ---------------------------------------------------------------------------
// Scenario 6: backup collapses duplicate remote records per logical entity
// ---------------------------------------------------------------------------

func TestBackupAll_DedupsDuplicates(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	ctx := context.Background()

	owner := uuid.New()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []uuid.UUID{uuid.New(), uuid.New(), uuid.New()} {
		tr := &model.Transcript{ID: id, RecordingID: owner, Text: "copy", CreatedAt: base, LastModified: base.Add(time.Duration(i) * time.Hour)}
		rec, _ := record.ToRemote(tr)
		store.Put(rec)
	}

	result, err := newRunner(local, store).BackupAll(ctx, signature.Options{})
	if err != nil {
		t.Fatalf("BackupAll: %v", err)
	}
	if result.DuplicatesRemoved != 2 {
		t.Errorf("DuplicatesRemoved = %d, want 2", result.DuplicatesRemoved)
	}
	recs, _ := store.Query(ctx, record.TypeTranscript)
	if len(recs) != 1 {
		t.Errorf("remote transcripts = %d, want 1", len(recs))
	}
}

// ---------------------------------------------------------------------------
// Scenario 7: restore with no backup fails loudly, with a cause diagnosis
// ---------------------------------------------------------------------------

func TestRestoreAll_NoBackup(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	runner := newRunner(local, store)

	_, err := runner.RestoreAll(context.Background())
	var ire *IncompleteRestoreError
	if !errors.As(err, &ire) {
		t.Fatalf("err = %v, want *IncompleteRestoreError", err)
	}
	if !ire.AccountReachable {
		t.Error("reachable account misdiagnosed as environment mismatch")
	}

	// Unreachable account: the diagnosis flips.
	store.FailAccount = func() error {
		return remote.NewError(remote.KindAccount, "no credentials")
	}
	_, err = runner.RestoreAll(context.Background())
	if !errors.As(err, &ire) {
		t.Fatalf("err = %v, want *IncompleteRestoreError", err)
	}
	if ire.AccountReachable {
		t.Error("unreachable account misdiagnosed as empty backup")
	}
}

// ---------------------------------------------------------------------------
// Scenario 8: restore recreates entities, dedups, and skips bad records
// ---------------------------------------------------------------------------

func TestRestoreAll_Populated(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	recording := &model.Recording{ID: uuid.New(), Title: "Keep me", CreatedAt: base}
	recRecord, _ := record.ToRemote(recording)
	store.Put(recRecord)

	// Two transcript copies for the same recording; the later one survives.
	for i, id := range []uuid.UUID{uuid.New(), uuid.New()} {
		tr := &model.Transcript{ID: id, RecordingID: recording.ID, Text: "v" + string(rune('1'+i)), CreatedAt: base, LastModified: base.Add(time.Duration(i) * time.Hour)}
		trRecord, _ := record.ToRemote(tr)
		store.Put(trRecord)
	}

	// One undecodable record: skipped, not fatal.
	bad := record.New("summary-broken", record.TypeSummary)
	bad.Fields[record.FieldID] = "not-a-uuid"
	store.Put(bad)

	result, err := newRunner(local, store).RestoreAll(ctx)
	if err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}
	if result.RecordingsRestored != 1 || result.TranscriptsRestored != 1 {
		t.Errorf("restored = %d recordings / %d transcripts, want 1/1", result.RecordingsRestored, result.TranscriptsRestored)
	}
	if result.DuplicatesRemoved != 1 {
		t.Errorf("DuplicatesRemoved = %d, want 1", result.DuplicatesRemoved)
	}
	if result.DecodeFailures != 1 {
		t.Errorf("DecodeFailures = %d, want 1", result.DecodeFailures)
	}

	if local.count(model.KindRecording) != 1 {
		t.Errorf("local recordings = %d, want 1", local.count(model.KindRecording))
	}
	if local.count(model.KindTranscript) != 1 {
		t.Errorf("local transcripts = %d, want 1", local.count(model.KindTranscript))
	}
	for _, e := range local.entities[model.KindTranscript] {
		tr := e.(*model.Transcript)
		if tr.Text != "v2" {
			t.Errorf("surviving transcript = %q, want the later copy v2", tr.Text)
		}
		if tr.RecordingID != recording.ID {
			t.Errorf("foreign key = %s, want %s", tr.RecordingID, recording.ID)
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario 9: reset deletes everything remote, then uploads fresh
// ---------------------------------------------------------------------------

func TestResetAndResync(t *testing.T) {
	local := newMemLocal()
	store := remote.NewMemStore()
	ctx := context.Background()
	seedRecordings(local, 2)

	// Stale remote state: an orphan record and a corrupt index.
	orphan, _ := record.ToRemote(&model.Recording{ID: uuid.New(), Title: "stale"})
	store.Put(orphan)
	badIndex := record.New(record.IndexName, record.TypeIndex)
	store.Put(badIndex)

	deleted, uploaded, err := newRunner(local, store).ResetAndResync(ctx, signature.Options{})
	if err != nil {
		t.Fatalf("ResetAndResync: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if uploaded != 2 {
		t.Errorf("uploaded = %d, want 2", uploaded)
	}

	recs, _ := store.Query(ctx, record.TypeRecording)
	if len(recs) != 2 {
		t.Errorf("remote recordings = %d, want 2", len(recs))
	}
	for _, rec := range recs {
		title, _ := rec.String(record.FieldTitle)
		if title == "stale" {
			t.Error("stale remote record survived the reset")
		}
	}
}
