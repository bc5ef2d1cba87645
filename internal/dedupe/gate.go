// Package dedupe admits each transaction checksum at most once across
// concurrent, independent service instances. Correctness rests entirely on
// the shared store's atomic set-if-absent primitive; process-local locking
// is never sufficient because concurrent instances do not share memory.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cofers/txguard/internal/domain"
)

// Decision is the outcome of admitting one checksum.
type Decision int

const (
	// Admitted means the checksum was absent and has been registered; the
	// caller owns processing this transaction.
	Admitted Decision = iota
	// AlreadySeen means the checksum is in the registry; the record is
	// dropped from further processing.
	AlreadySeen
	// LockContended means another admitter currently holds the lock for
	// this checksum.
	LockContended
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case AlreadySeen:
		return "already_seen"
	case LockContended:
		return "lock_contended"
	}
	return "unknown"
}

// ContentionPolicy controls what happens when the lock for a checksum is held
// by someone else.
type ContentionPolicy string

const (
	// PolicyDrop skips the record with a warning. This mirrors the current
	// production behavior: contention coinciding with a transient condition
	// can silently drop a transaction.
	PolicyDrop ContentionPolicy = "drop"
	// PolicyRetry retries acquisition a bounded number of times with a
	// fixed backoff before giving up.
	PolicyRetry ContentionPolicy = "retry"
)

// Store is the slice of the shared key-value store the gate depends on.
// SetIfAbsent must be atomic across all connected clients; it is the sole
// correctness primitive here.
type Store interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	AddToSet(ctx context.Context, set, member string) error
	IsMember(ctx context.Context, set, member string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Options tune the gate. Zero values fall back to the defaults below.
type Options struct {
	// RegistrySet names the store set holding admitted checksums.
	RegistrySet string
	// LockTTL is the lock auto-expiry. It must exceed the maximum expected
	// registry-write latency with a safety margin: a crashed holder's lock
	// self-releases after the TTL, at the cost of a brief window where a
	// duplicate could be admitted twice.
	LockTTL time.Duration
	// Policy selects the behavior under lock contention.
	Policy ContentionPolicy
	// RetryAttempts and RetryBackoff apply only under PolicyRetry.
	RetryAttempts int
	RetryBackoff  time.Duration
}

const (
	defaultRegistrySet = "processed_checksums"
	defaultLockTTL     = 5 * time.Second
	lockKeyPrefix      = "lock:checksum:"
)

// Gate coordinates checksum admission against the shared store.
type Gate struct {
	store Store
	opts  Options
	log   zerolog.Logger
}

// NewGate creates a Gate over the given store.
func NewGate(store Store, opts Options, log zerolog.Logger) *Gate {
	if opts.RegistrySet == "" {
		opts.RegistrySet = defaultRegistrySet
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Policy == "" {
		opts.Policy = PolicyDrop
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	return &Gate{store: store, opts: opts, log: log}
}

// Admit registers a checksum exactly once. Two concurrent calls for the same
// checksum yield exactly one Admitted; the other sees AlreadySeen or
// LockContended. The registry write happens only while holding the store
// lock for that checksum.
func (g *Gate) Admit(ctx context.Context, checksum string) (Decision, error) {
	seen, err := g.store.IsMember(ctx, g.opts.RegistrySet, checksum)
	if err != nil {
		return LockContended, fmt.Errorf("checking registry for %s: %w", checksum, err)
	}
	if seen {
		g.log.Info().Str("checksum", checksum).Msg("Checksum already processed, dropping record")
		return AlreadySeen, nil
	}

	acquired, err := g.acquireLock(ctx, checksum)
	if err != nil {
		return LockContended, err
	}
	if !acquired {
		g.log.Warn().
			Str("checksum", checksum).
			Str("policy", string(g.opts.Policy)).
			Msg("Could not acquire lock for checksum, record skipped")
		return LockContended, nil
	}

	lockKey := lockKeyPrefix + checksum
	defer func() {
		if err := g.store.Delete(ctx, lockKey); err != nil {
			// The lock self-releases after the TTL; holding it a little
			// longer only delays a competing admitter.
			g.log.Warn().Str("checksum", checksum).Err(err).Msg("Failed to release checksum lock")
		}
	}()

	// Re-check under the lock: a competing admitter may have registered the
	// checksum between our registry read and lock acquisition.
	seen, err = g.store.IsMember(ctx, g.opts.RegistrySet, checksum)
	if err != nil {
		return LockContended, fmt.Errorf("re-checking registry for %s: %w", checksum, err)
	}
	if seen {
		g.log.Info().Str("checksum", checksum).Msg("Checksum registered by a concurrent admitter")
		return AlreadySeen, nil
	}

	if err := g.store.AddToSet(ctx, g.opts.RegistrySet, checksum); err != nil {
		return LockContended, fmt.Errorf("registering checksum %s: %w", checksum, err)
	}
	g.log.Info().Str("checksum", checksum).Msg("Checksum admitted")
	return Admitted, nil
}

// acquireLock tries the atomic set-if-absent, honoring the contention policy.
func (g *Gate) acquireLock(ctx context.Context, checksum string) (bool, error) {
	lockKey := lockKeyPrefix + checksum

	acquired, err := g.store.SetIfAbsent(ctx, lockKey, g.opts.LockTTL)
	if err != nil {
		return false, fmt.Errorf("acquiring lock for %s: %w", checksum, err)
	}
	if acquired || g.opts.Policy != PolicyRetry {
		return acquired, nil
	}

	for attempt := 1; attempt <= g.opts.RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(g.opts.RetryBackoff):
		}
		acquired, err = g.store.SetIfAbsent(ctx, lockKey, g.opts.LockTTL)
		if err != nil {
			return false, fmt.Errorf("acquiring lock for %s (attempt %d): %w", checksum, attempt, err)
		}
		if acquired {
			return true, nil
		}
	}
	return false, nil
}

// FilterUnique returns the order-preserving subsequence of transactions whose
// checksum was admitted. AlreadySeen and LockContended records are skipped;
// a store error aborts the batch and surfaces as a failed invocation.
func (g *Gate) FilterUnique(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	unique := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		decision, err := g.Admit(ctx, tx.Checksum)
		if err != nil {
			return nil, err
		}
		if decision == Admitted {
			unique = append(unique, tx)
		}
	}
	g.log.Info().
		Int("input", len(txs)).
		Int("unique", len(unique)).
		Msg("Filtered unique transactions")
	return unique, nil
}
