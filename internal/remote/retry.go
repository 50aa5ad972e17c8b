package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/voxlog/voxsync/internal/record"
)

const (
	// maxAttempts is the number of tries before a mutating call gives up.
	maxAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval.
	maxDelay = 10 * time.Second
)

// SaveWithRetry saves rec through the conflict- and failure-handling policy
// shared by all mutating remote operations:
//
//   - version conflict: re-fetch the server's current version, merge the
//     caller's fields onto it (last-writer-wins per field), retry with the
//     merged record;
//   - transient failure: exponential backoff with jitter, honouring any
//     server-suggested retry-after delay, up to the attempt ceiling;
//   - anything else: propagate immediately.
func SaveWithRetry(ctx context.Context, store Store, rec *record.Remote, log *slog.Logger) (*record.Remote, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("save %q cancelled: %w", rec.Name, err)
		}

		saved, err := store.Save(ctx, rec)
		if err == nil {
			return saved, nil
		}
		lastErr = err

		switch KindOf(err) {
		case KindVersionConflict:
			merged, mergeErr := mergeOntoCurrent(ctx, store, rec)
			if mergeErr != nil {
				return nil, mergeErr
			}
			log.Debug("version conflict, retrying with merged record", "record", rec.Name, "attempt", attempt+1)
			rec = merged

		case KindTransient:
			if attempt == maxAttempts-1 {
				break
			}
			delay := retryDelay(err, attempt)
			log.Debug("transient save failure, backing off", "record", rec.Name, "delay", delay, "error", err)
			if werr := wait(ctx, delay); werr != nil {
				return nil, werr
			}

		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("saving %q failed after %d attempts: %w", rec.Name, maxAttempts, lastErr)
}

// DeleteWithRetry deletes a record under the same transient-failure policy.
// NotFound counts as success: the record is gone either way.
func DeleteWithRetry(ctx context.Context, store Store, name string, log *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("delete %q cancelled: %w", name, err)
		}

		err := store.Delete(ctx, name)
		if err == nil {
			return nil
		}
		if IsKind(err, KindNotFound) {
			return nil
		}
		lastErr = err

		if KindOf(err) != KindTransient || attempt == maxAttempts-1 {
			break
		}
		delay := retryDelay(err, attempt)
		log.Debug("transient delete failure, backing off", "record", name, "delay", delay, "error", err)
		if werr := wait(ctx, delay); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("deleting %q failed after %d attempts: %w", name, maxAttempts, lastErr)
}

// mergeOntoCurrent fetches the server's current record and overlays the
// caller's fields on top of it, preserving any server-side fields the caller
// does not carry.
func mergeOntoCurrent(ctx context.Context, store Store, rec *record.Remote) (*record.Remote, error) {
	current, err := store.Fetch(ctx, rec.Name)
	if err != nil {
		return nil, fmt.Errorf("re-fetching %q after version conflict: %w", rec.Name, err)
	}
	if current == nil {
		// Conflicting record vanished; our version stands as-is.
		return rec, nil
	}
	merged := current.Clone()
	for k, v := range rec.Fields {
		merged.Fields[k] = v
	}
	return merged, nil
}

// retryDelay prefers the server-suggested retry-after, falling back to
// exponential backoff with 50–100 % jitter.
func retryDelay(err error, attempt int) time.Duration {
	var se *StoreError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter
	}

	delay := baseDelay * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
