package cli

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the merged file and environment settings with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.printer.Print(g.file.Redacted())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the settings the engine would start with",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.file.Engine()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			g.printer.Success("configuration is valid for %s", cfg.Environment)
			return nil
		},
	})
	return cmd
}
