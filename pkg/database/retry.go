package database

import (
	"context"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/spendlens/core/pkg/problem"
)

// RetryPolicy bounds retry behavior for transient failures.
type RetryPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultRetryPolicy returns the engine-wide policy: up to three
// attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseMs: 100, MaxMs: 5000, MaxJitterMs: 250, MaxAttempts: 3}
}

// Backoff returns the delay before the given attempt (1-based for the
// first retry). Jitter is deterministic, seeded by the operation name
// and attempt index, so retry timing stays reproducible under test.
func Backoff(op string, attempt int, p RetryPolicy) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := p.BaseMs * factor
	if delay > p.MaxMs {
		delay = p.MaxMs
	}

	return time.Duration(delay+deterministicJitter(op, attempt, p.MaxJitterMs)) * time.Millisecond
}

func deterministicJitter(op string, attempt int, maxJitterMs int64) int64 {
	if maxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", op, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(maxJitterMs)) //nolint:gosec // maxJitterMs is always positive
}

// Do runs fn up to p.MaxAttempts times, retrying only transient
// failures. Permanent failures return immediately; exhaustion wraps the
// last error as transient so callers can surface degraded results.
func Do(ctx context.Context, op string, p RetryPolicy, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(op, attempt, p)):
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return problem.Wrapf(problem.KindTransient, op, err, "gave up after %d attempts", p.MaxAttempts)
}

// IsTransient reports whether err looks like a temporary infrastructure
// failure worth retrying: connection drops, serialization conflicts,
// deadlocks, and resource exhaustion.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if problem.IsTransient(err) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection exception
			return true
		case pqErr.Code == "40001": // serialization_failure
			return true
		case pqErr.Code == "40P01": // deadlock_detected
			return true
		case pqErr.Code.Class() == "53": // insufficient_resources
			return true
		case pqErr.Code == "57P03": // cannot_connect_now
			return true
		}
	}

	return false
}

// IsUniqueViolation reports whether err is a unique or exclusion
// constraint violation. Matching relies on this to treat concurrent
// proposal races as benign.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
