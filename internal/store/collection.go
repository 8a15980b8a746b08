package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/calvinalkan/courtbook/internal/metrics"
	"github.com/calvinalkan/courtbook/pkg/fs"
)

const dataFilePerm = 0o644

// collection is one JSON array file holding every record of one family.
//
// Reads go straight to disk without the lock. Writes go through mutate, which
// holds the sidecar lock across re-read, change and rewrite, so two writers
// can never both commit against the same snapshot.
//
// seen is the file version the owning repository's cache was filled from.
// Any other version on disk means some writer, possibly another process,
// changed the file behind the cache.
type collection[T any] struct {
	name    string
	path    string
	fs      fs.FS
	locker  *fs.Locker
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	seen    os.FileInfo
	seenSet bool
}

// revalidate compares the file on disk with the version seen last and calls
// drop, under c.mu, when they differ. Cached reads must call it before
// trusting an entry.
func (c *collection[T]) revalidate(drop func()) error {
	info, err := c.stat()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seenSet && sameVersion(c.seen, info) {
		return nil
	}

	if c.seenSet {
		c.logger.Debug("collection changed on disk, cache dropped",
			slog.String("collection", c.name),
		)
	}

	c.seen, c.seenSet = info, true
	drop()

	return nil
}

// advance moves seen from before to after once this collection itself
// replaced the file. If seen was already behind before the write, it is left
// alone so the next revalidate still drops the cache.
func (c *collection[T]) advance(before, after os.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seenSet && sameVersion(c.seen, before) {
		c.seen = after
	}
}

// stat returns the file's info, or nil when it does not exist.
func (c *collection[T]) stat() (os.FileInfo, error) {
	info, err := c.fs.Stat(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("stat %s: %w", c.name, err)
	}

	return info, nil
}

// sameVersion reports whether a and b describe the same file content. Every
// write replaces the file by rename, so a rewrite shows up as a new inode
// even when size and mtime happen to match.
func sameVersion(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Size() == b.Size() && a.ModTime().Equal(b.ModTime()) && os.SameFile(a, b)
}

// load returns every record in the file. A missing or blank file reads as
// empty.
func (c *collection[T]) load() ([]T, error) {
	data, err := c.fs.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []T{}, nil
		}

		return nil, fmt.Errorf("read %s: %w", c.name, err)
	}

	return decodeRecords[T](c.name, data)
}

func decodeRecords[T any](name string, data []byte) ([]T, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, nil
	}

	var records []T

	err := json.Unmarshal(data, &records)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	if records == nil {
		records = []T{}
	}

	return records, nil
}

// ensure creates the file as an empty array if it does not exist yet.
func (c *collection[T]) ensure(ctx context.Context) error {
	return c.mutate(ctx, func(records []T) ([]T, bool, error) {
		exists, err := c.fs.Exists(c.path)
		if err != nil {
			return nil, false, fmt.Errorf("stat %s: %w", c.name, err)
		}

		return records, !exists, nil
	})
}

// mutate runs fn against a fresh read of the file while holding the lock.
//
// fn returns the new record set and whether anything changed; the file is
// only rewritten when it did. An error from fn aborts without writing. The
// lock is released on every path.
//
// Failing to get the lock (timeout, ctx done, lock I/O) is reported as
// [ErrLock]. Once the lock is held the write runs to completion; ctx is only
// consulted while waiting.
func (c *collection[T]) mutate(ctx context.Context, fn func(records []T) ([]T, bool, error)) (err error) {
	lock, err := c.lock(ctx)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := lock.Close()
		if closeErr == nil {
			return
		}

		// The write is committed at this point; only log.
		c.logger.Error("lock released with error",
			slog.String("collection", c.name),
			slog.String("lock", lock.Path()),
			slog.Any("error", closeErr),
		)
	}()

	before, err := c.stat()
	if err != nil {
		return err
	}

	records, err := c.load()
	if err != nil {
		return err
	}

	updated, changed, err := fn(records)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	err = c.write(updated)
	if err != nil {
		return err
	}

	after, err := c.stat()
	if err != nil {
		// Written but not confirmed; the next revalidate drops the cache.
		return nil
	}

	c.advance(before, after)

	return nil
}

func (c *collection[T]) lock(ctx context.Context) (*fs.Lock, error) {
	start := time.Now()

	lock, err := c.locker.Acquire(ctx, c.path)
	waited := time.Since(start)

	if err != nil {
		result := metrics.LockError
		if errors.Is(err, fs.ErrLockTimeout) {
			result = metrics.LockTimeout
		}

		c.metrics.ObserveLock(c.name, result, waited)
		c.metrics.ObserveRejected(string(CodeLock))
		c.logger.Warn("lock not acquired",
			slog.String("collection", c.name),
			slog.Duration("waited", waited),
			slog.Any("error", err),
		)

		return nil, newError(CodeLock, "lock not acquired", err)
	}

	if lock.Stolen() {
		c.metrics.ObserveLock(c.name, metrics.LockStolen, waited)
		c.logger.Warn("stale lock removed",
			slog.String("collection", c.name),
			slog.String("lock", lock.Path()),
		)
	} else {
		c.metrics.ObserveLock(c.name, metrics.LockAcquired, waited)
	}

	return lock, nil
}

func (c *collection[T]) write(records []T) error {
	if records == nil {
		records = []T{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}

	data = append(data, '\n')

	err = c.fs.WriteFileAtomic(c.path, data, dataFilePerm)
	if err != nil {
		return fmt.Errorf("write %s: %w", c.name, err)
	}

	c.logger.Debug("collection written",
		slog.String("collection", c.name),
		slog.Int("records", len(records)),
	)

	return nil
}
