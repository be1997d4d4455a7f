// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// kvWatcher is the subset of jetstream.KeyValue used to watch parameters.
type kvWatcher interface {
	Watch(ctx context.Context, keys string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error)
}

// watchParams drops cached parameters as soon as they change in the KV
// bucket, so an operator moving the working folder does not wait out the
// cache TTL. The watch ends when ctx is cancelled.
func watchParams(ctx context.Context, kv kvWatcher, store *kvParamStore, cache *cachedParamStore, log *slog.Logger) error {
	watcher, err := kv.Watch(ctx, store.key("*"), jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("failed to watch parameters: %w", err)
	}

	go func() {
		defer func() {
			if err := watcher.Stop(); err != nil {
				log.With(errKey, err).Debug("error stopping parameter watcher")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// A nil entry marks the end of the initial values.
				if entry == nil {
					continue
				}
				name := store.name(entry.Key())
				cache.invalidate(name)
				log.With("param", name, "operation", entry.Operation().String()).Info("parameter changed, cached value dropped")
			}
		}
	}()
	return nil
}
