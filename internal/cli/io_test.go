package cli_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/calvinalkan/courtbook/internal/cli"
)

func Test_IO_Shows_Warnings_Before_Output_And_Again_At_Finish(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	o := cli.NewIO(&stdout, &stderr)
	o.Warn("member m1 not deactivated", "it is already inactive")
	o.Println("MEM-0001")

	if got, want := stderr.String(), "warning: member m1 not deactivated: it is already inactive\n"; got != want {
		t.Fatalf("stderr before finish=%q, want %q", got, want)
	}

	o.Printf("%s\n", "MEM-0002")

	if code := o.Finish(); code != 1 {
		t.Fatalf("Finish=%d, want 1", code)
	}

	if got := strings.Count(stderr.String(), "warning:"); got != 2 {
		t.Fatalf("warning printed %d times, want 2\nstderr:\n%s", got, stderr.String())
	}

	if got, want := stdout.String(), "MEM-0001\nMEM-0002\n"; got != want {
		t.Fatalf("stdout=%q, want %q", got, want)
	}
}

func Test_IO_Finish_Returns_Zero_Without_Warnings(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	o := cli.NewIO(&stdout, &stderr)
	o.Println("free")
	o.ErrPrintln("note")

	if code := o.Finish(); code != 0 {
		t.Fatalf("Finish=%d, want 0", code)
	}

	if got := stderr.String(); got != "note\n" {
		t.Fatalf("stderr=%q, want only the diagnostic line", got)
	}
}
