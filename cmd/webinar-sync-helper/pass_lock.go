// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

// Pass locking.
//
// Passes must never overlap: two concurrent passes over the same list would
// both see a row without a webinar ID and create the webinar twice. Within a
// process the scheduler already skips a tick while a pass is running; across
// replicas a lock key in the NATS JetStream KV bucket is used:
//   - The lock is acquired by atomically creating the key (Create fails when
//     the key already exists).
//   - A lock older than the configured timeout is considered stale, left by a
//     crashed replica, and is reclaimed.
//   - Acquisition is retried up to maxRetries times, sleeping retryInterval
//     between attempts.

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	passLockKey           = "pass_lock"
	passLockTimeout       = 30 * time.Minute
	passLockRetryInterval = 2 * time.Second
	passLockRetryAttempts = 3
)

// passLocker serializes reconciliation passes.
type passLocker interface {
	// acquire tries to take the lock. waited is true if at least one retry
	// was made.
	acquire(ctx context.Context) (acquired bool, waited bool)
	release(ctx context.Context) error
}

// lockerConfig holds the runtime configuration for a kvPassLocker.
type lockerConfig struct {
	key           string
	timeout       time.Duration
	retryInterval time.Duration
	maxRetries    int
	now           func() time.Time
}

// lockerOption is a functional option for configuring a kvPassLocker.
type lockerOption func(*lockerConfig)

// withTimeout sets the age after which an existing lock is considered stale.
// It must exceed the longest expected pass.
func withTimeout(d time.Duration) lockerOption {
	return func(c *lockerConfig) { c.timeout = d }
}

// withRetryInterval sets the sleep between acquire attempts.
func withRetryInterval(d time.Duration) lockerOption {
	return func(c *lockerConfig) { c.retryInterval = d }
}

// withMaxRetries sets the number of acquire attempts before giving up.
func withMaxRetries(n int) lockerOption {
	return func(c *lockerConfig) { c.maxRetries = n }
}

// withLockKey overrides the KV key of the lock.
func withLockKey(key string) lockerOption {
	return func(c *lockerConfig) { c.key = key }
}

// withClock sets the time source used for lock stamps and staleness.
func withClock(now func() time.Time) lockerOption {
	return func(c *lockerConfig) { c.now = now }
}

// lockKV is the subset of jetstream.KeyValue used for locking.
type lockKV interface {
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// kvPassLocker is the NATS JetStream KV implementation of passLocker.
type kvPassLocker struct {
	cfg lockerConfig
	kv  lockKV
}

// newKVPassLocker creates a kvPassLocker backed by the given KV bucket.
func newKVPassLocker(kv lockKV, opts ...lockerOption) *kvPassLocker {
	cfg := lockerConfig{
		key:           passLockKey,
		timeout:       passLockTimeout,
		retryInterval: passLockRetryInterval,
		maxRetries:    passLockRetryAttempts,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &kvPassLocker{cfg: cfg, kv: kv}
}

// acquire implements passLocker.
func (l *kvPassLocker) acquire(ctx context.Context) (bool, bool) {
	var waited bool

	for attempt := 1; attempt <= l.cfg.maxRetries; attempt++ {
		lockValue := []byte(strconv.FormatInt(l.cfg.now().Unix(), 10))

		// Atomic create: succeeds only if the key does not yet exist.
		if _, err := l.kv.Create(ctx, l.cfg.key, lockValue); err == nil {
			return true, waited
		}

		// The key already exists; reclaim it if stale. Update with the read
		// revision so two replicas cannot both reclaim the same stale lock.
		if entry, getErr := l.kv.Get(ctx, l.cfg.key); getErr == nil {
			if ts, parseErr := strconv.ParseInt(string(entry.Value()), 10, 64); parseErr == nil {
				if l.cfg.now().Sub(time.Unix(ts, 0)) > l.cfg.timeout {
					if _, updateErr := l.kv.Update(ctx, l.cfg.key, lockValue, entry.Revision()); updateErr == nil {
						return true, waited
					}
				}
			}
		}

		if attempt < l.cfg.maxRetries {
			waited = true
			select {
			case <-ctx.Done():
				return false, waited
			case <-time.After(l.cfg.retryInterval):
			}
		}
	}

	return false, waited
}

// release implements passLocker.
func (l *kvPassLocker) release(ctx context.Context) error {
	return l.kv.Delete(ctx, l.cfg.key)
}

// localPassLocker is an in-process passLocker for single-instance
// deployments without NATS.
type localPassLocker struct {
	mu sync.Mutex
}

// acquire implements passLocker. It never waits.
func (l *localPassLocker) acquire(context.Context) (bool, bool) {
	return l.mu.TryLock(), false
}

// release implements passLocker.
func (l *localPassLocker) release(context.Context) error {
	l.mu.Unlock()
	return nil
}
