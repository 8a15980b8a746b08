package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	// The FlagSet name is not used - command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "courtbook" in help.
	// Starts with the command name (one or two words), followed by
	// arguments and flags.
	// Examples: "reservation show <id>", "member ls [flags]", "print-config"
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name: the words of Usage before the first
// argument or flag placeholder ("reservation create").
func (c *Command) Name() string {
	var words []string

	for _, w := range strings.Fields(c.Usage) {
		if strings.ContainsAny(w[:1], "<[-") {
			break
		}

		words = append(words, w)
	}

	return strings.Join(words, " ")
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-40s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "courtbook <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Printf("%s", c.help())
}

func (c *Command) help() string {
	var b strings.Builder

	b.WriteString("Usage: courtbook " + c.Usage + "\n\n")

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	b.WriteString(desc + "\n")

	if c.Flags != nil && c.Flags.HasFlags() {
		b.WriteString("\nFlags:\n")
		c.Flags.SetOutput(&b)
		c.Flags.PrintDefaults()
	}

	return b.String()
}

// Run parses flags and executes the command. Returns exit code.
// Handles error printing internally for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		o.ErrPrintln(strings.TrimRight(c.help(), "\n"))

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}

// resetFlags restores every flag to its default so a Command can run more
// than once (the shell reuses commands across lines).
func (c *Command) resetFlags() {
	c.Flags.VisitAll(func(f *flag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}
