package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// CLI drives [Run] in-process against a private working directory, so each
// test gets its own data files and config lookup.
type CLI struct {
	t   *testing.T
	Dir string

	// Env is passed to [Run] as the whole environment. Tests add
	// COURTBOOK_* or XDG_CONFIG_HOME entries here.
	Env map[string]string
}

// NewCLI returns a CLI rooted in a fresh temp dir with an empty environment.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{t: t, Dir: t.TempDir(), Env: map[string]string{}}
}

// Run invokes courtbook with args (no program name, no --cwd) and returns
// stdout, stderr and the exit code.
func (c *CLI) Run(args ...string) (string, string, int) {
	return c.invoke(nil, args)
}

// RunWithInput is [CLI.Run] with stdin fed from input, for the shell.
func (c *CLI) RunWithInput(input string, args ...string) (string, string, int) {
	return c.invoke(strings.NewReader(input), args)
}

func (c *CLI) invoke(stdin io.Reader, args []string) (string, string, int) {
	var stdout, stderr bytes.Buffer

	argv := make([]string, 0, len(args)+3)
	argv = append(argv, "courtbook", "--cwd", c.Dir)
	argv = append(argv, args...)

	code := Run(stdin, &stdout, &stderr, argv, c.Env, nil)

	return stdout.String(), stderr.String(), code
}

// MustRun fails the test unless the command exits 0. Returns stdout without
// surrounding space.
func (c *CLI) MustRun(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code != 0 {
		c.t.Fatalf("courtbook %s: exit %d\nstderr: %s", strings.Join(args, " "), code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail fails the test unless the command exits non-zero with nothing on
// stdout. Returns stderr without surrounding space.
func (c *CLI) MustFail(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)

	switch {
	case code == 0:
		c.t.Fatalf("courtbook %s: exit 0, want failure\nstdout: %s", strings.Join(args, " "), stdout)
	case stdout != "":
		c.t.Fatalf("courtbook %s: failed but wrote to stdout\nstdout: %s", strings.Join(args, " "), stdout)
	}

	return strings.TrimSpace(stderr)
}

// DataDir is where the store puts its files when no config moves it.
func (c *CLI) DataDir() string {
	return filepath.Join(c.Dir, "data")
}

// ReadData returns the raw content of a file in [CLI.DataDir].
func (c *CLI) ReadData(name string) string {
	c.t.Helper()

	data, err := os.ReadFile(filepath.Join(c.DataDir(), name))
	if err != nil {
		c.t.Fatalf("read data file: %v", err)
	}

	return string(data)
}

// AssertContains reports an error when substr is missing from content.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("missing %q in:\n%s", substr, content)
	}
}

// AssertNotContains reports an error when substr occurs in content.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("unexpected %q in:\n%s", substr, content)
	}
}
