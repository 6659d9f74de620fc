package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/talentx/authcore/internal/app"
)

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the relational schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, store, err := app.OpenDB(ctx, g.file)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			g.printer.Success("schema is up to date")
			return nil
		},
	}
}

func newReapCmd(g *globals) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "reap-sessions",
		Short: "Remove expired sessions from Redis",
		Long: `Remove sessions idle past their role timeout. With --every the sweep
repeats until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if every > 0 {
				reapLoop(ctx, a.Engine, a.Logger, every)
				return nil
			}
			n, err := a.Engine.ReapExpiredSessions(ctx)
			if err != nil {
				return err
			}
			return g.printer.Print(reapResult{Removed: n})
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the sweep at this interval")
	return cmd
}

type reapResult struct {
	Removed int `json:"removed" yaml:"removed"`
}

func (r reapResult) Header() []string { return []string{"removed"} }
func (r reapResult) Rows() [][]string { return [][]string{{itoa(r.Removed)}} }
