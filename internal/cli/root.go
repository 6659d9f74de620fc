// Package cli is the authcore command tree: the HTTP server plus operator
// commands for sessions, lockouts, passwords and the schema.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/talentx/authcore/internal/app"
	"github.com/talentx/authcore/internal/config"
	"github.com/talentx/authcore/internal/format"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type globals struct {
	cfgFile string
	debug   bool
	output  string
	noColor bool

	file    *config.File
	printer *format.Printer
}

// openApp is swapped in tests.
var openApp = app.Open

// NewRootCommand builds the command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "authcore",
		Short:         "Authentication and session service for TalentX",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(g.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if g.debug {
				f.Logging.Level = "debug"
			}
			g.file = f

			colors := !g.noColor && !color.NoColor
			p, err := format.New(cmd.OutOrStdout(), g.output, colors)
			if err != nil {
				return err
			}
			g.printer = p
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (YAML); AUTHCORE_* variables override it")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", format.Table, "output format (table, json, yaml)")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newServeCmd(g),
		newMigrateCmd(g),
		newReapCmd(g),
		newHashPasswordCmd(g),
		newCheckPasswordCmd(g),
		newLockoutCmd(g),
		newSessionsCmd(g),
		newMFACmd(g),
		newConfigCmd(g),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand(os.Stdout).ExecuteContext(ctx)
}

func (g *globals) open(ctx context.Context) (*app.App, error) {
	return openApp(ctx, g.file)
}
