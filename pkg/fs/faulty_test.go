package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/calvinalkan/courtbook/pkg/fs"
)

func Test_Faulty_FailNext_Fails_Once_Then_Passes_Through(t *testing.T) {
	t.Parallel()

	faulty := fs.NewFaulty(fs.NewReal())
	path := filepath.Join(t.TempDir(), "data.json")

	faulty.FailNext(fs.OpWriteFileAtomic, nil)

	err := faulty.WriteFileAtomic(path, []byte("[]"), 0o644)
	if !errors.Is(err, syscall.EIO) {
		t.Fatalf("first write: err=%v, want EIO", err)
	}

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) || pathErr.Path != path {
		t.Fatalf("err=%#v, want *os.PathError for %q", err, path)
	}

	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("failed write must not create the file, stat err=%v", statErr)
	}

	if err := faulty.WriteFileAtomic(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if got, want := faulty.Calls(fs.OpWriteFileAtomic), 2; got != want {
		t.Fatalf("Calls=%d, want %d", got, want)
	}
}

func Test_Faulty_Fail_Is_Sticky_Until_Clear(t *testing.T) {
	t.Parallel()

	faulty := fs.NewFaulty(fs.NewReal())
	path := filepath.Join(t.TempDir(), "data.json")

	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	faulty.Fail(fs.OpReadFile, syscall.EACCES)

	for range 3 {
		if _, err := faulty.ReadFile(path); !errors.Is(err, syscall.EACCES) {
			t.Fatalf("ReadFile: err=%v, want EACCES", err)
		}
	}

	faulty.Clear()

	data, err := faulty.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after Clear: %v", err)
	}

	if string(data) != "[]" {
		t.Fatalf("data=%q, want []", data)
	}
}

func Test_Real_WriteFileAtomic_Replaces_Content_With_Requested_Mode(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "members.json")

	if err := fsys.WriteFileAtomic(path, []byte("[1]"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	if err := fsys.WriteFileAtomic(path, []byte("[2]"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(data) != "[2]" {
		t.Fatalf("data=%q, want [2]", data)
	}

	info, err := fsys.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if got := info.Mode().Perm(); got != 0o644 {
		t.Fatalf("perm=%o, want 644", got)
	}

	exists, err := fsys.Exists(filepath.Join(filepath.Dir(path), "missing.json"))
	if err != nil || exists {
		t.Fatalf("Exists(missing)=%v, %v; want false, nil", exists, err)
	}
}
