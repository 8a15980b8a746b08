package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinalkan/courtbook/internal/config"
	"github.com/calvinalkan/courtbook/internal/metrics"
	"github.com/calvinalkan/courtbook/internal/store"
)

const (
	minArgs      = 2
	consumedOne  = 1
	consumedTwo  = 2
	consumedNone = 0
	helpFlag     = "--help"
)

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the context passed to commands; lock waits in
// progress give up with a lock error.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < minArgs {
		printUsage(out)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut)

		return 1
	}

	if len(flags.remaining) == 0 || flags.remaining[0] == "-h" || flags.remaining[0] == helpFlag {
		printUsage(out)

		return 0
	}

	envOverrides, err := config.ReadEnv()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		DataDirOverride: flags.dataDir,
		Env:             env,
		EnvOverrides:    envOverrides,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	app, err := newApp(cfg, errOut)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	commands := app.commands(stdin, env)

	cmd, rest, ok := lookup(commands, flags.remaining)
	if !ok {
		fprintln(errOut, "error: unknown command:", strings.Join(flags.remaining[:min(2, len(flags.remaining))], " "))
		printCommands(errOut, group(commands, flags.remaining[0]))

		return 1
	}

	o := NewIO(out, errOut)

	if code := cmd.Run(ctx, o, rest); code != 0 {
		return code
	}

	return o.Finish()
}

// App is the state shared by all commands of one invocation: the resolved
// config, the logger and the lazily opened store.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry

	metrics *metrics.Metrics
	store   *store.Store
}

func newApp(cfg config.Config, logOut io.Writer) (*App, error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var handler slog.Handler = slog.NewTextHandler(logOut, opts)
	if cfg.LogFormat == config.LogFormatJSON {
		handler = slog.NewJSONHandler(logOut, opts)
	}

	reg := prometheus.NewRegistry()

	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	return &App{
		Config:   cfg,
		Logger:   slog.New(handler),
		Registry: reg,
		metrics:  m,
	}, nil
}

// Store opens the store on first use. Commands that never touch data
// (print-config, help) leave the data directory alone.
func (a *App) Store(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	s, err := store.Open(ctx, store.Options{
		DataDir:            a.Config.DataDirAbs,
		Lock:               a.Config.LockOptions(),
		MemberNumberPrefix: a.Config.MemberNumberPrefix,
		Logger:             a.Logger,
		Metrics:            a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.store = s

	return s, nil
}

// commands returns every command, in help order.
func (a *App) commands(stdin io.Reader, env map[string]string) []*Command {
	cmds := a.dataCommands()
	cmds = append(cmds, PrintConfigCmd(&a.Config), ShellCmd(a, stdin, env))

	return cmds
}

// dataCommands are the commands available both on the command line and in
// the shell.
func (a *App) dataCommands() []*Command {
	return []*Command{
		ReservationCreateCmd(a),
		ReservationLsCmd(a),
		ReservationShowCmd(a),
		ReservationUpdateCmd(a),
		ReservationCancelCmd(a),
		ReservationCheckCmd(a),
		ReservationSlotsCmd(a),
		MemberCreateCmd(a),
		MemberLsCmd(a),
		MemberShowCmd(a),
		MemberSearchCmd(a),
		MemberUpdateCmd(a),
		MemberDeleteCmd(a),
		MemberPenaltyCmd(a),
	}
}

// lookup finds the command named by the leading words of args. Two-word
// names ("reservation create") win over one-word names.
func lookup(commands []*Command, args []string) (*Command, []string, bool) {
	byName := make(map[string]*Command, len(commands))
	for _, c := range commands {
		byName[c.Name()] = c
	}

	if len(args) >= 2 {
		if c, ok := byName[args[0]+" "+args[1]]; ok {
			return c, args[2:], true
		}
	}

	if len(args) >= 1 {
		if c, ok := byName[args[0]]; ok {
			return c, args[1:], true
		}
	}

	return nil, nil, false
}

// group returns the commands whose first word is name, or all commands when
// none match.
func group(commands []*Command, name string) []*Command {
	var out []*Command

	for _, c := range commands {
		if strings.HasPrefix(c.Name(), name+" ") {
			out = append(out, c)
		}
	}

	if len(out) == 0 {
		return commands
	}

	return out
}

type globalFlags struct {
	workDir    string
	configPath string
	dataDir    *string
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			// Not a flag, this is the command
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// parseFlag tries to parse a flag at args[idx]. Returns number of args consumed (0 if not a flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	// -C/--cwd flag (work directory)
	if arg == "-C" || arg == "--cwd" {
		if idx+1 >= len(args) {
			return consumedNone, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
		}

		flags.workDir = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "--cwd="); ok {
		flags.workDir = after

		return consumedOne, nil
	}

	if after, ok := strings.CutPrefix(arg, "-C"); ok {
		flags.workDir = after

		return consumedOne, nil
	}

	// -c/--config flag
	if arg == "-c" || arg == "--config" {
		if idx+1 >= len(args) {
			return consumedNone, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
		}

		flags.configPath = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "--config="); ok {
		flags.configPath = after

		return consumedOne, nil
	}

	// --data-dir flag
	if arg == "--data-dir" {
		if idx+1 >= len(args) {
			return consumedNone, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
		}

		flags.dataDir = &args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "--data-dir="); ok {
		flags.dataDir = &after

		return consumedOne, nil
	}

	// -h/--help flags
	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	// Unknown flag
	if strings.HasPrefix(arg, "-") && arg != "-" {
		return consumedNone, fmt.Errorf("%w: %s", errUnknownFlag, arg)
	}

	// Not a flag
	return consumedNone, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const usageHeader = `courtbook - court reservations and club members

Usage: courtbook [options] <command> [args]

Global flags:
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
  --data-dir <dir>       Override the data directory
  -h, --help             Show help

`

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, usageHeader)

	// Help text does not depend on config or state.
	var app App

	printCommands(w, app.commands(nil, nil))
}

func printCommands(w io.Writer, commands []*Command) {
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}
