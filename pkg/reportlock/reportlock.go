// Package reportlock serializes ledger mutations per report.
//
// Share and revoke consume and release share ordinals for the same
// report; running two of them concurrently could mint the same ordinal
// twice or revoke an asset mid-mint. The lock is a Redis lease keyed by
// report, taken with SET NX and released only by its holder.
package reportlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld indicates the report lease is held by another operation and
// was not acquired within the configured wait.
var ErrHeld = errors.New("reportlock: report is locked by another operation")

// releaseScript deletes the lease only when the stored token still
// belongs to the caller, so an expired lease re-acquired by someone
// else is never released by the original holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	// DefaultTTL bounds how long a crashed holder can keep a report
	// locked. Ledger submission plus confirmation polling stays well
	// under this.
	DefaultTTL = 2 * time.Minute

	defaultRetryInterval = 200 * time.Millisecond
	defaultAcquireWait   = 10 * time.Second
)

// Locker grants per-report leases backed by Redis.
type Locker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	acquireWait   time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL overrides the lease TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) { l.ttl = ttl }
}

// WithAcquireWait overrides how long Acquire retries before giving up.
func WithAcquireWait(wait time.Duration) Option {
	return func(l *Locker) { l.acquireWait = wait }
}

// WithRetryInterval overrides the polling interval between acquire
// attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(l *Locker) { l.retryInterval = interval }
}

// New creates a Locker on an existing Redis client.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:        client,
		ttl:           DefaultTTL,
		retryInterval: defaultRetryInterval,
		acquireWait:   defaultAcquireWait,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lease is a held report lock. Release it when the mutation is done.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func leaseKey(reportID string) string {
	return fmt.Sprintf("reportlock:%s", reportID)
}

// Acquire takes the lease for a report, retrying until the configured
// wait elapses. Returns ErrHeld when the lease stays taken.
func (l *Locker) Acquire(ctx context.Context, reportID string) (*Lease, error) {
	key := leaseKey(reportID)
	token := uuid.NewString()

	deadline := time.Now().Add(l.acquireWait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reportlock: acquire %s: %w", reportID, err)
		}
		if ok {
			return &Lease{locker: l, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: report %s", ErrHeld, reportID)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("reportlock: acquire %s: %w", reportID, ctx.Err())
		case <-time.After(l.retryInterval):
		}
	}
}

// Release gives the lease back. Releasing an expired or stolen lease is
// a no-op.
func (le *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("reportlock: release %s: %w", le.key, err)
	}
	return nil
}
