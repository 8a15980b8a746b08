package cli

import (
	"context"
	"strings"

	"github.com/calvinalkan/courtbook/internal/config"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files and environment variables it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) error {
	io.Println(cfg.Format())

	io.Println("")
	io.Println("# sources")

	src := cfg.Sources
	if src.Global == "" && src.Project == "" && len(src.Env) == 0 {
		io.Println("(defaults only)")

		return nil
	}

	if src.Global != "" {
		io.Println("global_config=" + src.Global)
	}

	if src.Project != "" {
		io.Println("project_config=" + src.Project)
	}

	if len(src.Env) > 0 {
		io.Println("env=" + strings.Join(src.Env, ","))
	}

	return nil
}
