package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-dashboard/internal/permission"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions [role]",
	Short: "Print the role/menu/action table",
	Long:  `Print which actions each role may perform under each menu. With a role argument only that role is printed.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := permission.Roles()
		if len(args) == 1 {
			role, ok := permission.ParseRole(args[0])
			if !ok {
				return fmt.Errorf("unknown role %q", args[0])
			}
			roles = []permission.Role{role}
		}
		return printPermissions(cmd.OutOrStdout(), roles)
	},
}

func printPermissions(out io.Writer, roles []permission.Role) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := []string{"ROLE", "MENU"}
	for _, a := range permission.AllActions() {
		header = append(header, strings.ToUpper(string(a)))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, role := range roles {
		for _, menu := range permission.AllMenus() {
			row := []string{string(role), string(menu)}
			for _, a := range permission.AllActions() {
				mark := "-"
				if permission.HasPermission(role, menu, a) {
					mark = "x"
				}
				row = append(row, mark)
			}
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
	}
	return tw.Flush()
}
