// Package record defines the wire-format projection of syncable entities and
// the codec between the typed local representation and the remote store's flat
// key/value records.
//
// Record names are derived deterministically from the entity's UUID and a
// kind-specific prefix ("recording-<uuid>"), so identity can be reconstructed
// from a record name alone during dedup and disaster recovery. The field names
// below form the stable wire schema and must not change across versions.
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/model"
)

// Record type tags as stored on the remote side.
const (
	TypeRecording  = "Recording"
	TypeTranscript = "Transcript"
	TypeSummary    = "Summary"
	TypeIndex      = "ContentIndex"
)

// Remote is the flat wire projection of a syncable entity: a record name
// (stable remote identity), a record-type tag, and string-keyed scalar/blob
// fields. Permitted field value types are string, int64, float64, bool,
// []byte, and time.Time.
type Remote struct {
	Name   string
	Type   string
	Fields map[string]any
}

// New returns an empty record with the given name and type.
func New(name, recordType string) *Remote {
	return &Remote{Name: name, Type: recordType, Fields: make(map[string]any)}
}

// Clone returns a deep copy of the record. Blob values are copied.
func (r *Remote) Clone() *Remote {
	cp := New(r.Name, r.Type)
	for k, v := range r.Fields {
		if b, ok := v.([]byte); ok {
			nb := make([]byte, len(b))
			copy(nb, b)
			cp.Fields[k] = nb
			continue
		}
		cp.Fields[k] = v
	}
	return cp
}

// DecodeError reports a malformed remote record. The record is skipped and
// logged; it never aborts a batch or enumeration.
type DecodeError struct {
	Name  string
	Field string
	Cause string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding record %q: field %q: %s", e.Name, e.Field, e.Cause)
}

// String returns the named field as a string. Missing fields return the empty
// string (decode tolerates absent optional fields).
func (r *Remote) String(field string) (string, error) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &DecodeError{Name: r.Name, Field: field, Cause: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

// Int64 returns the named field as an int64, zero when absent.
func (r *Remote) Int64(field string) (int64, error) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return 0, nil
	}
	n, ok := v.(int64)
	if !ok {
		return 0, &DecodeError{Name: r.Name, Field: field, Cause: fmt.Sprintf("expected int64, got %T", v)}
	}
	return n, nil
}

// Float64 returns the named field as a float64, zero when absent.
func (r *Remote) Float64(field string) (float64, error) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, &DecodeError{Name: r.Name, Field: field, Cause: fmt.Sprintf("expected float64, got %T", v)}
	}
	return f, nil
}

// Bytes returns the named field as a blob, nil when absent.
func (r *Remote) Bytes(field string) ([]byte, error) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, &DecodeError{Name: r.Name, Field: field, Cause: fmt.Sprintf("expected blob, got %T", v)}
	}
	return b, nil
}

// Time returns the named field as a time, the zero time when absent.
func (r *Remote) Time(field string) (time.Time, error) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, &DecodeError{Name: r.Name, Field: field, Cause: fmt.Sprintf("expected time, got %T", v)}
	}
	return t, nil
}

// FieldsEqual reports whether two records carry the same fields, skipping any
// field named in ignore. Used for the no-conflict pre-check (ignoring
// timestamps) and the backup field-diff.
func FieldsEqual(a, b *Remote, ignore ...string) bool {
	skip := make(map[string]bool, len(ignore))
	for _, f := range ignore {
		skip[f] = true
	}

	for k, av := range a.Fields {
		if skip[k] {
			continue
		}
		if !ValueEqual(av, b.Fields[k]) {
			return false
		}
	}
	for k, bv := range b.Fields {
		if skip[k] {
			continue
		}
		if _, ok := a.Fields[k]; !ok && !ValueEqual(bv, nil) {
			return false
		}
	}
	return true
}

// ValueEqual compares two field values. Times compare by instant, blobs by
// content. nil equals nil only.
func ValueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && string(av) == string(bv)
	default:
		return a == b
	}
}

// --- Record naming -----------------------------------------------------------

var kindPrefixes = map[model.Kind]string{
	model.KindRecording:  "recording",
	model.KindTranscript: "transcript",
	model.KindSummary:    "summary",
}

var kindTypes = map[model.Kind]string{
	model.KindRecording:  TypeRecording,
	model.KindTranscript: TypeTranscript,
	model.KindSummary:    TypeSummary,
}

// NameFor returns the deterministic record name for an entity identity.
func NameFor(kind model.Kind, id uuid.UUID) string {
	return kindPrefixes[kind] + "-" + id.String()
}

// TypeFor returns the remote record-type tag for a kind.
func TypeFor(kind model.Kind) string {
	return kindTypes[kind]
}

// KindForType returns the entity kind for a remote record-type tag.
func KindForType(recordType string) (model.Kind, bool) {
	for k, t := range kindTypes {
		if t == recordType {
			return k, true
		}
	}
	return "", false
}

// ParseName reconstructs (kind, id) from a record name. This is how dedup and
// recovery re-derive identity without a separate index.
func ParseName(name string) (model.Kind, uuid.UUID, error) {
	prefix, rest, ok := strings.Cut(name, "-")
	if !ok {
		return "", uuid.Nil, fmt.Errorf("record name %q has no kind prefix", name)
	}
	var kind model.Kind
	for k, p := range kindPrefixes {
		if p == prefix {
			kind = k
			break
		}
	}
	if kind == "" {
		return "", uuid.Nil, fmt.Errorf("record name %q has unknown prefix %q", name, prefix)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("record name %q has invalid id: %w", name, err)
	}
	return kind, id, nil
}
