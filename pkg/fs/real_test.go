package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/courtbook/pkg/fs"
)

func Test_Real_Exists_Reports_Files_Dirs_And_Missing_Paths(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	dir := t.TempDir()

	file := filepath.Join(dir, "members.json")
	if err := os.WriteFile(file, []byte("[]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := map[string]bool{
		file:                                true,
		dir:                                 true,
		filepath.Join(dir, "missing.json"):  false,
		filepath.Join(dir, "nested", "x.j"): false,
	}

	for path, want := range cases {
		got, err := fsys.Exists(path)
		if err != nil {
			t.Fatalf("Exists(%s): %v", path, err)
		}

		if got != want {
			t.Errorf("Exists(%s)=%v, want %v", path, got, want)
		}
	}
}

func Test_Real_WriteFileAtomic_Replaces_Content_And_Applies_Perm(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "reservations.json")

	if err := fsys.WriteFileAtomic(path, []byte("[]\n"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}

	if err := fsys.WriteFileAtomic(path, []byte("[{}]\n"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(data) != "[{}]\n" {
		t.Fatalf("content=%q, want %q", data, "[{}]\n")
	}

	info, err := fsys.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if got := info.Mode().Perm(); got != 0o644 {
		t.Fatalf("perm=%o, want 644", got)
	}
}

func Test_Real_Remove_Reports_Missing_File(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "a.lock")

	if err := fsys.WriteFileAtomic(path, []byte("1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := fsys.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if ok, _ := fsys.Exists(path); ok {
		t.Fatalf("%s still exists after remove", path)
	}

	if err := fsys.Remove(path); !os.IsNotExist(err) {
		t.Fatalf("second remove err=%v, want not-exist", err)
	}
}
