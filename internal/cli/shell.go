package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/peterh/liner"
	"github.com/prometheus/common/expfmt"

	flag "github.com/spf13/pflag"
)

const historyFileName = ".courtbook_history"

var errUnterminatedQuote = errors.New("unterminated quote")

// ShellCmd returns the shell command: an interactive loop running the data
// commands against one open store, so its caches stay warm between lines.
func ShellCmd(app *App, stdin io.Reader, env map[string]string) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt",
		Long: `Start an interactive prompt. Each line is a command without the
"courtbook" prefix, e.g. "member ls --status=active".

Builtins: help, stats (lock, cache and rejection counters), exit.
When stdin is not a terminal, lines are read from it without a prompt.`,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			sh := &shell{app: app, io: io, commands: app.dataCommands()}

			lines := newLineReader(stdin, env, sh.complete)
			defer func() { _ = lines.Close() }()

			return sh.run(ctx, lines)
		},
	}
}

type shell struct {
	app      *App
	io       *IO
	commands []*Command
}

// lineReader is the input side of the shell.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

func (sh *shell) run(ctx context.Context, lines lineReader) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := lines.Prompt("courtbook> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lines.AppendHistory(line)

		args, err := splitFields(line)
		if err != nil {
			sh.io.ErrPrintln("error:", err)

			continue
		}

		switch args[0] {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			sh.printHelp()
		case "stats":
			err = sh.printStats()
			if err != nil {
				sh.io.ErrPrintln("error:", err)
			}
		default:
			sh.exec(ctx, args)
		}
	}
}

// exec runs one data command with its own IO so warnings are reported
// per line. Failures are printed and the loop goes on.
func (sh *shell) exec(ctx context.Context, args []string) {
	cmd, rest, ok := lookup(sh.commands, args)
	if !ok {
		sh.io.ErrPrintln("error: unknown command:", args[0], "(type 'help' for commands)")

		return
	}

	o := NewIO(sh.io.out, sh.io.errOut)

	cmd.resetFlags()

	if cmd.Run(ctx, o, rest) == 0 {
		o.Finish()
	}
}

func (sh *shell) printHelp() {
	sh.io.Println("Commands:")

	for _, c := range sh.commands {
		sh.io.Println(c.HelpLine())
	}

	sh.io.Println()
	sh.io.Println("  help                                     Show this list")
	sh.io.Println("  stats                                    Show lock, cache and rejection counters")
	sh.io.Println("  exit                                     Leave the shell")
}

func (sh *shell) printStats() error {
	families, err := sh.app.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var buf strings.Builder

	for _, mf := range families {
		_, err := expfmt.MetricFamilyToText(&buf, mf)
		if err != nil {
			return fmt.Errorf("format metrics: %w", err)
		}
	}

	sh.io.Printf("%s", buf.String())

	return nil
}

// completions lists the first two words of every command plus builtins.
func (sh *shell) completions() []string {
	words := []string{"help", "stats", "exit"}
	for _, c := range sh.commands {
		words = append(words, c.Name())
	}

	slices.Sort(words)

	return words
}

func (sh *shell) complete(line string) []string {
	var out []string

	for _, w := range sh.completions() {
		if strings.HasPrefix(w, line) {
			out = append(out, w+" ")
		}
	}

	return out
}

// newLineReader uses liner on an interactive terminal and a plain scanner
// for anything else (pipes, tests).
func newLineReader(stdin io.Reader, env map[string]string, complete func(string) []string) lineReader {
	if f, ok := stdin.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		r := newTerminalReader(historyPath(env))
		r.state.SetCompleter(complete)

		return r
	}

	if stdin == nil {
		stdin = strings.NewReader("")
	}

	return &scanReader{scanner: bufio.NewScanner(stdin)}
}

func historyPath(env map[string]string) string {
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, historyFileName)
	}

	return ""
}

type terminalReader struct {
	state   *liner.State
	history string
}

func newTerminalReader(history string) *terminalReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	if history != "" {
		if f, err := os.Open(history); err == nil {
			_, _ = state.ReadHistory(f)
			_ = f.Close()
		}
	}

	return &terminalReader{state: state, history: history}
}

func (r *terminalReader) Prompt(prompt string) (string, error) {
	return r.state.Prompt(prompt)
}

func (r *terminalReader) AppendHistory(line string) {
	r.state.AppendHistory(line)
}

// Close saves history and restores the terminal.
func (r *terminalReader) Close() error {
	if r.history != "" {
		if f, err := os.Create(r.history); err == nil {
			_, _ = r.state.WriteHistory(f)
			_ = f.Close()
		}
	}

	return r.state.Close()
}

type scanReader struct {
	scanner *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return r.scanner.Text(), nil
}

func (*scanReader) AppendHistory(string) {}

func (*scanReader) Close() error { return nil }

// splitFields splits a command line on whitespace. Single or double quotes
// group words ("Court 1"); a backslash escapes the next rune outside single
// quotes.
func splitFields(line string) ([]string, error) {
	var (
		fields  []string
		cur     strings.Builder
		inField bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)

			escaped = false
		case r == '\\' && quote != '\'':
			escaped, inField = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inField = r, true
		case r == ' ' || r == '\t':
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()

				inField = false
			}
		default:
			cur.WriteRune(r)

			inField = true
		}
	}

	if quote != 0 || escaped {
		return nil, errUnterminatedQuote
	}

	if inField {
		fields = append(fields, cur.String())
	}

	return fields, nil
}
