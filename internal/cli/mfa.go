package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/talentx/authcore/internal/app"
)

func newMFACmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mfa",
		Short: "Manage MFA enforcement policy",
	}

	var tenant string
	var global bool
	enforce := &cobra.Command{
		Use:   "enforce <on|off>",
		Short: "Require MFA for a tenant or for every tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			if (tenant == "") == !global {
				return errors.New("pass exactly one of --tenant or --global")
			}
			ctx := cmd.Context()
			db, store, err := app.OpenDB(ctx, g.file)
			if err != nil {
				return err
			}
			defer db.Close()

			scope := "all tenants"
			if global {
				err = store.SetGlobalMFAEnforced(ctx, on)
			} else {
				scope = "tenant " + tenant
				err = store.SetTenantMFAEnforced(ctx, tenant, on)
			}
			if err != nil {
				return err
			}
			g.printer.Success("MFA enforcement %s for %s", args[0], scope)
			return nil
		},
	}
	enforce.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	enforce.Flags().BoolVar(&global, "global", false, "apply to every tenant")

	cmd.AddCommand(enforce)
	return cmd
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
