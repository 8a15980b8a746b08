package fs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrLockTimeout is returned by [Locker.Acquire] when the lock is still
	// held by someone else after [LockOptions.Timeout].
	ErrLockTimeout = errors.New("lock timeout")

	// ErrLockLost is returned by [Lock.Close] when the sidecar file no longer
	// carries this holder's token, i.e. the lock was stolen as stale while it
	// was held. Writes made under the lock may have raced another writer.
	ErrLockLost = errors.New("lock lost")

	// ErrInvalidLockOptions is returned by [NewLocker] for unusable options.
	ErrInvalidLockOptions = errors.New("invalid lock options")
)

const (
	lockSuffix   = ".lock"
	stealSuffix  = ".steal"
	lockFilePerm = 0o644
	lockDirPerm  = 0o750
)

// LockOptions controls how long [Locker.Acquire] waits and when an existing
// lock file is considered abandoned.
type LockOptions struct {
	// Timeout bounds the total time spent waiting for the lock.
	Timeout time.Duration

	// StaleAfter is the age after which an existing lock file is presumed to
	// belong to a crashed holder and is removed.
	StaleAfter time.Duration

	// RetryInitial is the first backoff sleep; it doubles after every failed
	// attempt up to RetryMax.
	RetryInitial time.Duration
	RetryMax     time.Duration

	// CheckHolderAlive refuses to steal a stale lock whose holder runs on
	// this host and whose pid still exists. Without it staleness is purely
	// age based, so a holder that merely stalls past StaleAfter loses its
	// lock.
	CheckHolderAlive bool
}

// DefaultLockOptions returns the options used when nothing is configured.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Timeout:      5 * time.Second,
		StaleAfter:   30 * time.Second,
		RetryInitial: 5 * time.Millisecond,
		RetryMax:     100 * time.Millisecond,
	}
}

// Validate reports unusable options, wrapping [ErrInvalidLockOptions].
func (o LockOptions) Validate() error {
	switch {
	case o.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidLockOptions)
	case o.StaleAfter <= 0:
		return fmt.Errorf("%w: stale-after must be > 0", ErrInvalidLockOptions)
	case o.RetryInitial <= 0:
		return fmt.Errorf("%w: retry-initial must be > 0", ErrInvalidLockOptions)
	case o.RetryMax < o.RetryInitial:
		return fmt.Errorf("%w: retry-max must be >= retry-initial", ErrInvalidLockOptions)
	}

	return nil
}

// Locker provides mutual exclusion between processes (and goroutines) using
// a sidecar lock file per resource: locking "data/members.json" creates
// "data/members.json.lock".
//
// Acquisition is an exclusive create (O_CREATE|O_EXCL), so exactly one
// caller wins. The file body records who holds it:
//
//	{"pid":4242,"host":"web-1","token":"9f1c...","acquired_at":"2026-02-10T10:00:00Z"}
//
// A caller that finds the file present checks its age (from acquired_at,
// falling back to the file mtime when the body is unreadable). Locks older
// than [LockOptions.StaleAfter] are removed and the create is retried;
// younger ones are waited on with exponential backoff until
// [LockOptions.Timeout].
//
// Unlike flock(2), the lock does not disappear when the holder dies, which
// is why staleness exists at all. Removal of a stale lock is itself guarded
// by a short-lived "<lock>.steal" file, so two waiters that both see the
// same stale lock cannot both remove it (the second would otherwise delete
// the first one's fresh lock).
//
// Locker has no mutable state and is safe for concurrent use.
type Locker struct {
	fs    FS
	opts  LockOptions
	pid   int
	host  string
	now   func() time.Time
	alive func(pid int) bool
}

// NewLocker creates a Locker that uses the given filesystem.
func NewLocker(fsys FS, opts LockOptions) (*Locker, error) {
	if fsys == nil {
		panic("fs is nil")
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	host, _ := os.Hostname()

	return &Locker{
		fs:    fsys,
		opts:  opts,
		pid:   os.Getpid(),
		host:  host,
		now:   time.Now,
		alive: processAlive,
	}, nil
}

// Options returns the options the Locker was created with.
func (l *Locker) Options() LockOptions {
	return l.opts
}

// LockPath returns the sidecar lock path for resource.
func LockPath(resource string) string {
	return resource + lockSuffix
}

// lockHolder is the JSON body of a lock file.
type lockHolder struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock represents a held sidecar lock. Call [Lock.Close] to release it.
type Lock struct {
	mu     sync.Mutex
	fs     FS
	path   string
	token  string
	stolen bool
	closed bool
}

// Path returns the lock file path.
func (lk *Lock) Path() string {
	return lk.path
}

// Stolen reports whether a stale lock had to be removed to obtain this one.
func (lk *Lock) Stolen() bool {
	return lk.stolen
}

// Close releases the lock by removing the lock file.
//
// Close is idempotent - calling it multiple times is safe and subsequent
// calls return nil.
//
// The file is only removed if it still carries this lock's token. If it was
// replaced (stolen as stale by another caller), it is left alone and Close
// returns [ErrLockLost].
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.closed {
		return nil
	}

	lk.closed = true

	holder, _, err := readHolder(lk.fs, lk.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s was removed while held", ErrLockLost, lk.path)
		}

		return fmt.Errorf("releasing %s: %w", lk.path, err)
	}

	if holder.Token != lk.token {
		return fmt.Errorf("%w: %s now held by pid %d", ErrLockLost, lk.path, holder.PID)
	}

	err = lk.fs.Remove(lk.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("releasing %s: %w", lk.path, err)
	}

	return nil
}

// Acquire obtains the lock for resource, waiting up to
// [LockOptions.Timeout].
//
// The resource itself is never opened; only LockPath(resource) is created.
// Missing parent directories are created.
//
// Returns an error satisfying [errors.Is] with [ErrLockTimeout] if the lock
// is still held when the timeout expires, or with ctx.Err() if ctx ends
// first. In both cases nothing is held and nothing needs releasing.
func (l *Locker) Acquire(ctx context.Context, resource string) (*Lock, error) {
	if resource == "" {
		return nil, errors.New("acquire lock: resource is empty")
	}

	path := LockPath(resource)

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	deadline := l.now().Add(l.opts.Timeout)
	backoff := l.opts.RetryInitial
	stolen := false

	for {
		created, err := l.tryCreate(path, token)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}

		if created {
			return &Lock{fs: l.fs, path: path, token: token, stolen: stolen}, nil
		}

		retry, broke, err := l.breakIfStale(path)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}

		if broke {
			stolen = true
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s still held after %s", ErrLockTimeout, path, l.opts.Timeout)
		}

		if retry {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("acquire lock %s: %w", path, err)
			}

			continue
		}

		timer := time.NewTimer(min(backoff, remaining))

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("acquire lock %s: %w", path, ctx.Err())
		case <-timer.C:
		}

		backoff = min(backoff*2, l.opts.RetryMax)
	}
}

// tryCreate attempts the exclusive create. Returns (false, nil) when the
// lock file already exists.
func (l *Locker) tryCreate(path, token string) (bool, error) {
	file, err := l.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockFilePerm)
	if errors.Is(err, os.ErrNotExist) {
		mkErr := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm)
		if mkErr != nil {
			return false, fmt.Errorf("creating lock dir: %w", mkErr)
		}

		file, err = l.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockFilePerm)
	}

	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}

		return false, fmt.Errorf("creating lock file: %w", err)
	}

	body, err := json.Marshal(lockHolder{
		PID:        l.pid,
		Host:       l.host,
		Token:      token,
		AcquiredAt: l.now().UTC(),
	})
	if err != nil {
		_ = file.Close()
		_ = l.fs.Remove(path)

		return false, fmt.Errorf("encoding lock holder: %w", err)
	}

	_, writeErr := file.Write(body)
	closeErr := file.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = l.fs.Remove(path)

		return false, fmt.Errorf("writing lock file: %w", err)
	}

	return true, nil
}

// breakIfStale inspects an existing lock file.
//
// Returns:
//   - retry=true: try the create again immediately (lock vanished or was removed)
//   - broke=true: this call removed a stale lock
//   - both false: the lock is live, wait and retry
func (l *Locker) breakIfStale(path string) (retry bool, broke bool, err error) {
	holder, mtime, err := readHolder(l.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return true, false, nil
	}

	if err != nil && !errors.Is(err, errHolderUnreadable) {
		return false, false, err
	}

	if !l.isStale(holder, mtime) {
		return false, false, nil
	}

	guard := path + stealSuffix

	guardFile, err := l.fs.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockFilePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Someone else is stealing. A guard left behind by a crashed
			// stealer is cleared once it is stale itself.
			if info, statErr := l.fs.Stat(guard); statErr == nil && l.now().Sub(info.ModTime()) > l.opts.StaleAfter {
				_ = l.fs.Remove(guard)
			}

			return false, false, nil
		}

		return false, false, fmt.Errorf("creating steal guard: %w", err)
	}

	_ = guardFile.Close()

	defer func() { _ = l.fs.Remove(guard) }()

	// Re-read under the guard: only remove the exact lock judged stale.
	again, againMtime, err := readHolder(l.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return true, false, nil
	}

	if err != nil && !errors.Is(err, errHolderUnreadable) {
		return false, false, err
	}

	if again.Token != holder.Token || !againMtime.Equal(mtime) {
		return true, false, nil
	}

	err = l.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, false, fmt.Errorf("removing stale lock: %w", err)
	}

	return true, true, nil
}

func (l *Locker) isStale(holder lockHolder, mtime time.Time) bool {
	since := mtime
	if !holder.AcquiredAt.IsZero() {
		since = holder.AcquiredAt
	}

	if l.now().Sub(since) <= l.opts.StaleAfter {
		return false
	}

	if l.opts.CheckHolderAlive && holder.PID > 0 && holder.Host == l.host && l.alive(holder.PID) {
		return false
	}

	return true
}

var errHolderUnreadable = errors.New("lock holder unreadable")

// readHolder returns the decoded lock body and the file mtime. A file that
// exists but does not decode (for example while its creator is still
// writing it) yields errHolderUnreadable together with a valid mtime.
func readHolder(fsys FS, path string) (lockHolder, time.Time, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return lockHolder{}, time.Time{}, err
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return lockHolder{}, info.ModTime(), err
	}

	var holder lockHolder

	if err := json.Unmarshal(data, &holder); err != nil {
		return lockHolder{}, info.ModTime(), fmt.Errorf("%w: %w", errHolderUnreadable, err)
	}

	return holder, info.ModTime(), nil
}

func newToken() (string, error) {
	var buf [16]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating lock token: %w", err)
	}

	return hex.EncodeToString(buf[:]), nil
}

// processAlive reports whether pid exists. EPERM means it exists but
// belongs to another user.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}
