package record

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/model"
)

// ---------------------------------------------------------------------------
// Scenario 1: Round-trip preserves every field for all three kinds
// ---------------------------------------------------------------------------

func TestRoundTrip_AllKinds(t *testing.T) {
	created := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	modified := created.Add(2 * time.Hour)
	recID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")

	entities := []model.Entity{
		&model.Recording{
			ID:           recID,
			Title:        "Planning call",
			Notes:        "Q3 roadmap",
			Duration:     1820.25,
			AudioPath:    "planning.m4a",
			AudioSize:    9_200_144,
			CreatedAt:    created,
			LastModified: modified,
		},
		&model.Transcript{
			ID:           uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"),
			RecordingID:  recID,
			Text:         "We agreed on three milestones.",
			Language:     "en",
			CreatedAt:    created,
			LastModified: modified,
		},
		&model.Summary{
			ID:          uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000003"),
			RecordingID: recID,
			Overview:    "Roadmap agreed.",
			Tasks:       []model.Task{{Text: "send minutes", Done: true}, {Text: "share notes"}},
			Reminders:   []model.Reminder{{Text: "follow up", At: modified.Add(24 * time.Hour)}},
			Titles:      []string{"Planning", "Q3 planning call"},
			CreatedAt:   created,
		},
	}

	for _, e := range entities {
		rec, err := ToRemote(e)
		if err != nil {
			t.Fatalf("ToRemote(%s): %v", e.EntityKind(), err)
		}
		back, err := FromRemote(rec)
		if err != nil {
			t.Fatalf("FromRemote(%s): %v", rec.Name, err)
		}
		if !reflect.DeepEqual(e, back) {
			t.Errorf("%s round trip mismatch:\n got %+v\nwant %+v", e.EntityKind(), back, e)
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario 2: Empty structured lists and nil optionals survive the trip
// ---------------------------------------------------------------------------

func TestRoundTrip_EmptyAndOptional(t *testing.T) {
	// Orphaned transcript, no recording link, no timestamps.
	tr := &model.Transcript{
		ID:   uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001"),
		Text: "standalone",
	}
	rec, err := ToRemote(tr)
	if err != nil {
		t.Fatalf("ToRemote: %v", err)
	}
	if _, ok := rec.Fields[FieldRecordingID]; ok {
		t.Error("nil owner must not be encoded")
	}
	back, err := FromRemote(rec)
	if err != nil {
		t.Fatalf("FromRemote: %v", err)
	}
	if !reflect.DeepEqual(tr, back) {
		t.Errorf("orphan transcript mismatch:\n got %+v\nwant %+v", back, tr)
	}

	// Summary with all lists empty.
	sm := &model.Summary{ID: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")}
	rec, err = ToRemote(sm)
	if err != nil {
		t.Fatalf("ToRemote: %v", err)
	}
	back, err = FromRemote(rec)
	if err != nil {
		t.Fatalf("FromRemote: %v", err)
	}
	if !reflect.DeepEqual(sm, back) {
		t.Errorf("empty summary mismatch:\n got %+v\nwant %+v", back, sm)
	}
}

// ---------------------------------------------------------------------------
// Scenario 3: Decoding tolerates missing optional fields, substitutes defaults
// ---------------------------------------------------------------------------

func TestFromRemote_MissingOptionalFields(t *testing.T) {
	id := uuid.MustParse("cccccccc-0000-0000-0000-000000000001")
	rec := New(NameFor(model.KindRecording, id), TypeRecording)
	rec.Fields[FieldID] = id.String()
	// No title, no duration, no timestamps.

	e, err := FromRemote(rec)
	if err != nil {
		t.Fatalf("FromRemote: %v", err)
	}
	r := e.(*model.Recording)
	if r.Title != "" || r.Duration != 0 || !r.CreatedAt.IsZero() {
		t.Errorf("missing optionals did not decode to defaults: %+v", r)
	}
}

// ---------------------------------------------------------------------------
// Scenario 4: Identity falls back to the record name when the id field is gone
// ---------------------------------------------------------------------------

func TestFromRemote_IDFromRecordName(t *testing.T) {
	id := uuid.MustParse("cccccccc-0000-0000-0000-000000000002")
	rec := New(NameFor(model.KindTranscript, id), TypeTranscript)
	rec.Fields[FieldText] = "recovered"

	e, err := FromRemote(rec)
	if err != nil {
		t.Fatalf("FromRemote: %v", err)
	}
	if e.EntityID() != id {
		t.Errorf("EntityID = %s, want %s", e.EntityID(), id)
	}
}

// ---------------------------------------------------------------------------
// Scenario 5: Mistyped required fields fail with a DecodeError
// ---------------------------------------------------------------------------

func TestFromRemote_DecodeErrors(t *testing.T) {
	rec := New("recording-not-a-uuid", TypeRecording)
	rec.Fields[FieldID] = int64(42)

	_, err := FromRemote(rec)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Field != FieldID {
		t.Errorf("DecodeError.Field = %q, want %q", de.Field, FieldID)
	}

	rec = New("unknown-record", "Mystery")
	if _, err := FromRemote(rec); !errors.As(err, &de) {
		t.Errorf("unknown type err = %v, want *DecodeError", err)
	}
}

// ---------------------------------------------------------------------------
// Scenario 6: Malformed list blobs decode to empty lists, not failures
// ---------------------------------------------------------------------------

func TestSummaryFromRemote_MalformedListBlob(t *testing.T) {
	id := uuid.MustParse("cccccccc-0000-0000-0000-000000000003")
	rec := New(NameFor(model.KindSummary, id), TypeSummary)
	rec.Fields[FieldID] = id.String()
	rec.Fields[FieldTasks] = []byte("{not json")

	e, err := FromRemote(rec)
	if err != nil {
		t.Fatalf("FromRemote: %v", err)
	}
	if tasks := e.(*model.Summary).Tasks; tasks != nil {
		t.Errorf("malformed blob decoded to %+v, want nil", tasks)
	}
}

// ---------------------------------------------------------------------------
// Scenario 7: Record names are deterministic and reversible
// ---------------------------------------------------------------------------

func TestRecordNames(t *testing.T) {
	id := uuid.MustParse("dddddddd-0000-0000-0000-000000000001")

	name := NameFor(model.KindSummary, id)
	if name != "summary-"+id.String() {
		t.Errorf("NameFor = %q", name)
	}
	if NameFor(model.KindSummary, id) != name {
		t.Error("NameFor is not deterministic")
	}

	kind, parsed, err := ParseName(name)
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	if kind != model.KindSummary || parsed != id {
		t.Errorf("ParseName = (%s, %s), want (%s, %s)", kind, parsed, model.KindSummary, id)
	}

	if _, _, err := ParseName("content-index"); err == nil {
		t.Error("ParseName accepted the index record name")
	}
	if _, _, err := ParseName("noprefix"); err == nil {
		t.Error("ParseName accepted a name without a prefix")
	}
}

// ---------------------------------------------------------------------------
// Scenario 8: FieldsEqual honours the ignore list and blob content
// ---------------------------------------------------------------------------

func TestFieldsEqual(t *testing.T) {
	now := time.Now().UTC()
	a := New("recording-x", TypeRecording)
	a.Fields[FieldTitle] = "same"
	a.Fields[FieldLastModified] = now

	b := a.Clone()
	b.Fields[FieldLastModified] = now.Add(time.Hour)

	if FieldsEqual(a, b) {
		t.Error("timestamp drift reported equal without ignore list")
	}
	if !FieldsEqual(a, b, TimestampFields...) {
		t.Error("timestamp drift not ignored")
	}

	b.Fields[FieldTitle] = "different"
	if FieldsEqual(a, b, TimestampFields...) {
		t.Error("content change reported equal")
	}

	// Blob values compare by content, not identity.
	a.Fields[FieldAudioData] = []byte{1, 2, 3}
	c := a.Clone()
	if !FieldsEqual(a, c, TimestampFields...) {
		t.Error("cloned blob reported unequal")
	}
}

// ---------------------------------------------------------------------------
// Scenario 9: Audio attachment keyed by size+mtime signature
// ---------------------------------------------------------------------------

func TestAttachAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.m4a")
	if err := os.WriteFile(path, []byte("audio-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	rec := New("recording-test", TypeRecording)
	if err := AttachAudio(rec, path); err != nil {
		t.Fatalf("AttachAudio: %v", err)
	}

	data, err := rec.Bytes(FieldAudioData)
	if err != nil || string(data) != "audio-bytes" {
		t.Errorf("audio data = %q, %v", data, err)
	}

	sig, err := rec.String(FieldAudioSig)
	if err != nil || sig == "" {
		t.Fatalf("audio signature = %q, %v", sig, err)
	}
	again, err := AudioSignature(path)
	if err != nil || again != sig {
		t.Errorf("AudioSignature not stable: %q vs %q (%v)", sig, again, err)
	}

	if _, err := AudioSignature(filepath.Join(t.TempDir(), "missing.m4a")); err == nil {
		t.Error("AudioSignature succeeded on a missing file")
	}
}

// ---------------------------------------------------------------------------
// Scenario 10: Content index round trip and emptiness checks
// ---------------------------------------------------------------------------

func TestContentIndex(t *testing.T) {
	ci := &ContentIndex{UpdatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	ci.Set(model.KindRecording, []string{"recording-b", "recording-a"})
	ci.Set(model.KindTranscript, []string{"transcript-a"})

	if ci.IsEmpty() {
		t.Error("populated index reported empty")
	}
	if got := ci.Names(model.KindRecording); !reflect.DeepEqual(got, []string{"recording-a", "recording-b"}) {
		t.Errorf("names not sorted: %v", got)
	}

	back, err := IndexFromRemote(IndexToRemote(ci))
	if err != nil {
		t.Fatalf("IndexFromRemote: %v", err)
	}
	if !reflect.DeepEqual(ci, back) {
		t.Errorf("index round trip mismatch:\n got %+v\nwant %+v", back, ci)
	}

	if !(&ContentIndex{}).IsEmpty() {
		t.Error("zero index reported non-empty")
	}
}
