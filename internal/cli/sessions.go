package cli

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/talentx/authcore"
)

func newSessionsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, end and describe idle sessions",
	}

	var account string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the open sessions of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				return errors.New("--account is required")
			}
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			infos, err := a.Engine.ListSessions(ctx, account, "")
			if err != nil {
				return err
			}
			return g.printer.Print(sessionList(infos))
		},
	}
	list.Flags().StringVar(&account, "account", "", "account id (required)")

	var termAccount string
	terminate := &cobra.Command{
		Use:   "terminate <session-id>",
		Short: "End one session of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if termAccount == "" {
				return errors.New("--account is required")
			}
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Engine.TerminateSession(ctx, termAccount, args[0]); err != nil {
				return err
			}
			g.printer.Success("session %s terminated", args[0])
			return nil
		},
	}
	terminate.Flags().StringVar(&termAccount, "account", "", "account id (required)")

	timeouts := &cobra.Command{
		Use:   "timeouts",
		Short: "Show the idle timeout of every role",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return g.printer.Print(timeoutTable(a.Engine.SessionTimeouts()))
		},
	}

	cmd.AddCommand(list, terminate, timeouts)
	return cmd
}

type sessionList []authcore.SessionInfo

func (l sessionList) Header() []string {
	return []string{"id", "ip", "user agent", "created", "last active", "expires"}
}

func (l sessionList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		rows = append(rows, []string{
			s.ID,
			s.IPAddress,
			s.UserAgent,
			s.CreatedAt.UTC().Format(time.RFC3339),
			s.LastActiveAt.UTC().Format(time.RFC3339),
			s.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

type timeoutTable []authcore.SessionTimeout

func (t timeoutTable) Header() []string { return []string{"role", "timeout (min)", "warning (min)"} }

func (t timeoutTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, to := range t {
		rows = append(rows, []string{to.Role, strconv.Itoa(to.TimeoutMinutes), strconv.Itoa(to.WarningMinutes)})
	}
	return rows
}
