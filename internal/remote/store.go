// Package remote defines the consumed remote record-store interface, its
// error taxonomy, and the shared retry wrapper every mutating call goes
// through. The HTTP client in this package is one implementation; tests use
// the in-memory [MemStore].
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voxlog/voxsync/internal/record"
)

// Store is the remote record store. Fetch returns (nil, nil) when the record
// does not exist. Query is best-effort and may fail when the record type has
// no query index; ZoneChanges is the authoritative enumeration and visits
// every live record in the zone.
type Store interface {
	Save(ctx context.Context, rec *record.Remote) (*record.Remote, error)
	Delete(ctx context.Context, name string) error
	Fetch(ctx context.Context, name string) (*record.Remote, error)
	Query(ctx context.Context, recordType string) ([]*record.Remote, error)
	ZoneChanges(ctx context.Context, fn func(*record.Remote) error) error
	AccountStatus(ctx context.Context) error
}

// ErrorKind classifies a store failure for retry and propagation decisions.
type ErrorKind int

const (
	// KindVersionConflict signals an optimistic-concurrency failure: the
	// record changed since it was fetched. Resolved by fetch-merge-retry,
	// never surfaced as a failure.
	KindVersionConflict ErrorKind = iota
	// KindTransient covers network hiccups, service-unavailable, and
	// rate-limiting. Retried with backoff up to the attempt ceiling.
	KindTransient
	// KindUnavailable means the network or service cannot sync at all.
	// Short-circuits whole passes without consuming retry budget.
	KindUnavailable
	// KindNotFound is returned by Delete for an absent record.
	KindNotFound
	// KindUnknownType signals the record type has no remote schema yet.
	// Triggers one-shot schema self-provisioning and a single retry.
	KindUnknownType
	// KindAccount means the remote account is unavailable or unauthenticated.
	// Surfaced to the user; sync disables itself to avoid a retry storm.
	KindAccount
	// KindPermanent is any non-recoverable failure. Propagates immediately.
	KindPermanent
)

// String returns a short label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindVersionConflict:
		return "version-conflict"
	case KindTransient:
		return "transient"
	case KindUnavailable:
		return "unavailable"
	case KindNotFound:
		return "not-found"
	case KindUnknownType:
		return "unknown-record-type"
	case KindAccount:
		return "account"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// StoreError is the error type returned by Store implementations.
type StoreError struct {
	Kind ErrorKind
	Msg  string

	// RetryAfter is the server-suggested delay for rate-limited requests.
	// Zero when the server gave none.
	RetryAfter time.Duration

	Err error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote store: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("remote store: %s: %s", e.Kind, e.Msg)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewError builds a StoreError.
func NewError(kind ErrorKind, msg string) *StoreError {
	return &StoreError{Kind: kind, Msg: msg}
}

// KindOf extracts the error kind, defaulting to KindPermanent for errors that
// are not StoreErrors.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindPermanent
}

// IsKind reports whether err is a StoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == kind
}
