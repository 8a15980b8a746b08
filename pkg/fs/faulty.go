package fs

import (
	"os"
	"sync"
	"syscall"
)

// Op names an [FS] operation that [Faulty] can fail.
type Op string

// Operations that can be failed.
const (
	OpOpenFile        Op = "open_file"
	OpReadFile        Op = "read_file"
	OpWriteFileAtomic Op = "write_file_atomic"
	OpMkdirAll        Op = "mkdir_all"
	OpStat            Op = "stat"
	OpRemove          Op = "remove"
)

// Faulty wraps an [FS] and fails operations on demand.
//
// Unlike a random fault injector, failures are deterministic: a test arms an
// operation with [Faulty.Fail] (every call fails until [Faulty.Clear]) or
// [Faulty.FailNext] (only the next call fails), performs the action under
// test and asserts that nothing was half-written.
//
// Injected errors are wrapped in [*os.PathError] so callers see the same
// shape as real filesystem errors.
//
// Faulty is safe for concurrent use.
type Faulty struct {
	base FS

	mu     sync.Mutex
	sticky map[Op]error
	once   map[Op]error
	calls  map[Op]int
}

// NewFaulty returns a [Faulty] that passes everything through to base until
// told otherwise.
func NewFaulty(base FS) *Faulty {
	if base == nil {
		panic("base fs is nil")
	}

	return &Faulty{
		base:   base,
		sticky: make(map[Op]error),
		once:   make(map[Op]error),
		calls:  make(map[Op]int),
	}
}

// Fail makes every subsequent call of op fail with err (EIO if nil).
func (f *Faulty) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sticky[op] = orEIO(err)
}

// FailNext makes only the next call of op fail with err (EIO if nil).
func (f *Faulty) FailNext(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.once[op] = orEIO(err)
}

// Clear removes all armed failures.
func (f *Faulty) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.sticky)
	clear(f.once)
}

// Calls returns how often op was invoked, including failed calls.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	if err, ok := f.once[op]; ok {
		delete(f.once, op)

		return &os.PathError{Op: string(op), Path: path, Err: err}
	}

	if err, ok := f.sticky[op]; ok {
		return &os.PathError{Op: string(op), Path: path, Err: err}
	}

	return nil
}

func orEIO(err error) error {
	if err == nil {
		return syscall.EIO
	}

	return err
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	return f.base.OpenFile(path, flag, perm)
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.base.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.base.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.base.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.base.Stat(path)
}

func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.base.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.base.Remove(path)
}
