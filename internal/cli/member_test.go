package cli_test

import (
	"strings"
	"testing"

	"github.com/calvinalkan/courtbook/internal/cli"
)

// addMember creates a member and returns its number and id.
func addMember(t *testing.T, c *cli.CLI, first, last, email string, extra ...string) (string, string) {
	t.Helper()

	args := append([]string{"member", "create", "--first", first, "--last", last, "--email", email}, extra...)
	fields := strings.Fields(c.MustRun(args...))

	if len(fields) < 2 {
		t.Fatalf("unexpected create output: %v", fields)
	}

	return fields[0], fields[1]
}

func Test_Member_Create_Generates_Numbers_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	n1, _ := addMember(t, c, "Ann", "Lee", "ann@example.com")
	n2, _ := addMember(t, c, "Bob", "Ray", "bob@example.com", "--role", "coach")
	n3, _ := addMember(t, c, "Cy", "Day", "cy@example.com", "--number", "mem-0040")
	n4, _ := addMember(t, c, "Di", "Eve", "di@example.com")

	got := []string{n1, n2, n3, n4}
	want := []string{"MEM-0001", "MEM-0002", "MEM-0040", "MEM-0041"}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("numbers=%v, want %v", got, want)
	}

	cli.AssertContains(t, c.MustRun("member", "ls"), "MEM-0002")
	cli.AssertContains(t, c.ReadData("members.json"), `"role": "coach"`)
}

func Test_Member_Create_Uses_Configured_Prefix_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, c.Dir, ".courtbook.json", `{"member_number_prefix": "TC"}`)

	n, _ := addMember(t, c, "Ann", "Lee", "ann@example.com")
	if n != "TC-0001" {
		t.Fatalf("number=%q, want TC-0001", n)
	}
}

func Test_Member_Create_Rejects_Duplicates_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	_, id := addMember(t, c, "Ann", "Lee", "ann@example.com", "--number", "MEM-0007")

	stderr := c.MustFail("member", "create", "--first", "A", "--last", "B", "--email", " ANN@example.com")
	cli.AssertContains(t, stderr, "email ann@example.com already registered to member MEM-0007")

	stderr = c.MustFail("member", "create", "--first", "A", "--last", "B", "--email", "a@example.com", "--number", "mem-0007")
	cli.AssertContains(t, stderr, "already taken")

	// Deactivated members keep their email.
	c.MustRun("member", "delete", id)

	stderr = c.MustFail("member", "create", "--first", "A", "--last", "B", "--email", "ann@example.com")
	cli.AssertContains(t, stderr, "already registered")
}

func Test_Member_Create_Validates_Input_When_Invoked(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing first", []string{"--last", "Lee", "--email", "a@example.com"}, "firstName is required"},
		{"bad email", []string{"--first", "A", "--last", "B", "--email", "not-an-email"}, "is not a valid address"},
		{"bad role", []string{"--first", "A", "--last", "B", "--email", "a@example.com", "--role", "captain"}, "captain"},
		{"bad birthday", []string{"--first", "A", "--last", "B", "--email", "a@example.com", "--dob", "12/01/1990"}, "YYYY-MM-DD"},
		{"bad number", []string{"--first", "A", "--last", "B", "--email", "a@example.com", "--number", "VIP7"}, "must look like PREFIX-0001"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			stderr := c.MustFail(append([]string{"member", "create"}, tc.args...)...)

			cli.AssertContains(t, stderr, tc.want)
		})
	}
}

func Test_Member_Show_Finds_By_Id_Email_Or_Number_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	number, id := addMember(t, c, "Ann", "Lee", "ann@example.com",
		"--emergency-name", "Pat Lee", "--emergency-phone", "555-0100")

	for _, key := range []string{id, "ANN@example.com", number, strings.ToLower(number)} {
		stdout := c.MustRun("member", "show", key)

		cli.AssertContains(t, stdout, `"id": "`+id+`"`)
		cli.AssertContains(t, stdout, `"name": "Pat Lee"`)
	}

	stderr := c.MustFail("member", "show", "nobody@example.com")
	cli.AssertContains(t, stderr, "not found")

	stderr = c.MustFail("member", "show", "MEM-9999")
	cli.AssertContains(t, stderr, "not found")
}

func Test_Member_Ls_Filters_By_Status_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	active, _ := addMember(t, c, "Ann", "Lee", "ann@example.com")
	inactive, _ := addMember(t, c, "Bob", "Ray", "bob@example.com", "--inactive")

	stdout := c.MustRun("member", "ls", "--status", "active")
	cli.AssertContains(t, stdout, active)
	cli.AssertNotContains(t, stdout, inactive)

	stdout = c.MustRun("member", "ls", "--status=inactive")
	cli.AssertContains(t, stdout, inactive+"  ")
	cli.AssertContains(t, stdout, "inactive")
	cli.AssertNotContains(t, stdout, active)

	stdout = c.MustRun("member", "ls")
	cli.AssertContains(t, stdout, active)
	cli.AssertContains(t, stdout, inactive)

	stderr := c.MustFail("member", "ls", "--status", "sleeping")
	cli.AssertContains(t, stderr, "unknown member status")
}

func Test_Member_Search_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	ann, _ := addMember(t, c, "Ann", "Lee", "ann@example.com", "--phone", "555-0101")
	bob, _ := addMember(t, c, "Bob", "Leeds", "bob@club.org")

	stdout := c.MustRun("member", "search", "lee")
	cli.AssertContains(t, stdout, ann)
	cli.AssertContains(t, stdout, bob)

	stdout = c.MustRun("member", "search", "Ann", "Lee")
	cli.AssertContains(t, stdout, ann)
	cli.AssertNotContains(t, stdout, bob)

	stdout = c.MustRun("member", "search", "club.org")
	cli.AssertNotContains(t, stdout, ann)
	cli.AssertContains(t, stdout, bob)

	if got := c.MustRun("member", "search", "zzz"); got != "" {
		t.Fatalf("search zzz=%q, want empty", got)
	}

	stderr := c.MustFail("member", "search")
	cli.AssertContains(t, stderr, "search query is required")
}

func Test_Member_Update_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	_, ann := addMember(t, c, "Ann", "Lee", "ann@example.com", "--emergency-name", "Pat")
	addMember(t, c, "Bob", "Ray", "bob@example.com")

	stdout := c.MustRun("member", "update", ann, "--email", "Ann.Lee@Example.com", "--emergency-phone", "555-0199")
	cli.AssertContains(t, stdout, "ann.lee@example.com")

	show := c.MustRun("member", "show", "ann.lee@example.com")
	cli.AssertContains(t, show, `"name": "Pat"`)
	cli.AssertContains(t, show, `"phone": "555-0199"`)

	stderr := c.MustFail("member", "show", "ann@example.com")
	cli.AssertContains(t, stderr, "not found")

	stderr = c.MustFail("member", "update", ann, "--email", "bob@example.com")
	cli.AssertContains(t, stderr, "already registered")

	// Keeping its own email is not a duplicate.
	c.MustRun("member", "update", ann, "--email", "ann.lee@example.com", "--first", "Anne")

	stdout = c.MustRun("member", "update", ann, "--active=false")
	cli.AssertContains(t, stdout, "Anne Lee")
	cli.AssertContains(t, stdout, "inactive")

	stderr = c.MustFail("member", "update", "missing", "--first", "X")
	cli.AssertContains(t, stderr, "not found")
}

func Test_Member_Delete_Deactivates_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	_, id := addMember(t, c, "Ann", "Lee", "ann@example.com")

	if got := c.MustRun("member", "delete", id); got != "Deactivated "+id {
		t.Fatalf("delete output=%q", got)
	}

	stdout, stderr, code := c.Run("member", "delete", id)
	if code != 1 || stdout != "" {
		t.Fatalf("second delete: code=%d stdout=%q", code, stdout)
	}

	cli.AssertContains(t, stderr, "warning: member "+id+" not deactivated")

	cli.AssertContains(t, c.ReadData("members.json"), `"isActive": false`)
	cli.AssertContains(t, c.MustRun("member", "show", id), `"isActive": false`)
}

func Test_Member_Penalty_Never_Drops_Below_Zero_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	number, id := addMember(t, c, "Ann", "Lee", "ann@example.com")

	steps := []struct {
		args []string
		want string
	}{
		{nil, number + " penalties=1"},
		{[]string{"--add", "2"}, number + " penalties=3"},
		{[]string{"--add=-5"}, number + " penalties=0"},
	}

	for _, step := range steps {
		got := c.MustRun(append([]string{"member", "penalty", id}, step.args...)...)
		if got != step.want {
			t.Fatalf("penalty %v=%q, want %q", step.args, got, step.want)
		}
	}

	stderr := c.MustFail("member", "penalty", "missing")
	cli.AssertContains(t, stderr, "not found")
}
