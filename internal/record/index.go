package record

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/voxlog/voxsync/internal/model"
)

// IndexName is the well-known record name of the content index.
const IndexName = "content-index"

// Content-index field names.
const (
	fieldIndexRecordings  = "recordings"
	fieldIndexTranscripts = "transcripts"
	fieldIndexSummaries   = "summaries"
	fieldIndexUpdatedAt   = "updatedAt"
)

// ContentIndex is a single well-known remote record holding the record names
// of every live content record, one list per kind. It is the fast-path
// directory for change discovery: O(k) point-reads instead of a zone walk.
type ContentIndex struct {
	Recordings  []string
	Transcripts []string
	Summaries   []string
	UpdatedAt   time.Time
}

// Names returns the list for the given kind.
func (ci *ContentIndex) Names(kind model.Kind) []string {
	switch kind {
	case model.KindRecording:
		return ci.Recordings
	case model.KindTranscript:
		return ci.Transcripts
	case model.KindSummary:
		return ci.Summaries
	}
	return nil
}

// Set replaces the list for the given kind, stored sorted so the index record
// is byte-stable for identical content.
func (ci *ContentIndex) Set(kind model.Kind, names []string) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	switch kind {
	case model.KindRecording:
		ci.Recordings = sorted
	case model.KindTranscript:
		ci.Transcripts = sorted
	case model.KindSummary:
		ci.Summaries = sorted
	}
}

// Add inserts a record name into the kind's list, keeping it sorted.
// Reports whether the index changed.
func (ci *ContentIndex) Add(kind model.Kind, name string) bool {
	names := ci.Names(kind)
	i := sort.SearchStrings(names, name)
	if i < len(names) && names[i] == name {
		return false
	}
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	switch kind {
	case model.KindRecording:
		ci.Recordings = names
	case model.KindTranscript:
		ci.Transcripts = names
	case model.KindSummary:
		ci.Summaries = names
	default:
		return false
	}
	return true
}

// Remove drops a record name from the kind's list. Reports whether the
// index changed.
func (ci *ContentIndex) Remove(kind model.Kind, name string) bool {
	names := ci.Names(kind)
	i := sort.SearchStrings(names, name)
	if i >= len(names) || names[i] != name {
		return false
	}
	ci.Set(kind, append(names[:i:i], names[i+1:]...))
	return true
}

// IsEmpty reports whether the index names no content records at all.
func (ci *ContentIndex) IsEmpty() bool {
	return len(ci.Recordings) == 0 && len(ci.Transcripts) == 0 && len(ci.Summaries) == 0
}

// IndexToRemote encodes the index as its wire record.
func IndexToRemote(ci *ContentIndex) *Remote {
	rec := New(IndexName, TypeIndex)
	rec.Fields[fieldIndexRecordings] = marshalList(ci.Recordings)
	rec.Fields[fieldIndexTranscripts] = marshalList(ci.Transcripts)
	rec.Fields[fieldIndexSummaries] = marshalList(ci.Summaries)
	setTime(rec, fieldIndexUpdatedAt, ci.UpdatedAt)
	return rec
}

// IndexFromRemote decodes an index record. Missing or malformed lists decode
// to empty.
func IndexFromRemote(rec *Remote) (*ContentIndex, error) {
	ci := &ContentIndex{}
	var err error
	if ci.Recordings, err = indexList(rec, fieldIndexRecordings); err != nil {
		return nil, err
	}
	if ci.Transcripts, err = indexList(rec, fieldIndexTranscripts); err != nil {
		return nil, err
	}
	if ci.Summaries, err = indexList(rec, fieldIndexSummaries); err != nil {
		return nil, err
	}
	if ci.UpdatedAt, err = rec.Time(fieldIndexUpdatedAt); err != nil {
		return nil, err
	}
	return ci, nil
}

func indexList(rec *Remote, field string) ([]string, error) {
	b, err := rec.Bytes(field)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var names []string
	if uerr := json.Unmarshal(b, &names); uerr != nil {
		return nil, nil
	}
	if len(names) == 0 {
		return nil, nil
	}
	return names, nil
}
