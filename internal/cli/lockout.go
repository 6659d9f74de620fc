package cli

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/talentx/authcore"
)

func newLockoutCmd(g *globals) *cobra.Command {
	var email, tenant string
	var history int

	cmd := &cobra.Command{
		Use:   "lockout",
		Short: "Inspect or clear login lockouts",
	}
	cmd.PersistentFlags().StringVar(&email, "email", "", "account email (required)")
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant id; empty for the tenant-less key")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the lockout state and recent attempts of an email",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Engine.LockoutStatus(ctx, email, tenant)
			if err != nil {
				return err
			}
			var attempts []authcore.LoginAttempt
			if a.Store != nil {
				attempts, err = a.Store.RecentLoginAttempts(ctx, email, history)
				if err != nil {
					return err
				}
			}
			if st.Locked {
				g.printer.Warning("locked for %d more minute(s)", st.RemainingMinutes)
			}
			return g.printer.Print(lockoutReport{Status: st, Attempts: attempts})
		},
	}
	status.Flags().IntVar(&history, "history", 10, "number of recent attempts to show")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget recorded failures so the account can sign in again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Engine.ClearLockout(ctx, email, tenant); err != nil {
				return err
			}
			g.printer.Success("lockout cleared for %s", email)
			return nil
		},
	}

	cmd.AddCommand(status, clearCmd)
	return cmd
}

type lockoutReport struct {
	Status   authcore.LockStatus     `json:"status" yaml:"status"`
	Attempts []authcore.LoginAttempt `json:"attempts" yaml:"attempts"`
}

func (r lockoutReport) Header() []string {
	return []string{"time", "tenant", "ip", "success", "locked", "failures", "remaining"}
}

// Rows lists recent attempts; the guard state repeats on the first row.
func (r lockoutReport) Rows() [][]string {
	state := []string{
		strconv.FormatBool(r.Status.Locked),
		itoa(r.Status.FailureCount),
		itoa(r.Status.AttemptsRemaining),
	}
	if len(r.Attempts) == 0 {
		return [][]string{append([]string{"-", "-", "-", "-"}, state...)}
	}
	rows := make([][]string, 0, len(r.Attempts))
	for i, at := range r.Attempts {
		row := []string{
			at.CreatedAt.UTC().Format(time.RFC3339),
			at.TenantID,
			at.IPAddress,
			strconv.FormatBool(at.Success),
		}
		if i == 0 {
			row = append(row, state...)
		} else {
			row = append(row, "", "", "")
		}
		rows = append(rows, row)
	}
	return rows
}
