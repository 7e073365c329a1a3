package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-dashboard/internal/auth"
	"github.com/frahmantamala/payment-dashboard/internal/permission"
	"github.com/frahmantamala/payment-dashboard/internal/usersapi"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in from the terminal",
	Long:  `Walk through the two-step sign-in against the configured users API and print the menus available to the resulting role.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := usersapi.NewClient(usersapi.Config{
			BaseURL: cfg.UsersAPI.BaseURL,
			APIKey:  cfg.UsersAPI.APIKey,
			Timeout: cfg.UsersAPI.Timeout,
		}, logger.LoggerWrapper())

		sid := auth.NewSessionID()
		m := auth.NewMachine(client.ForSession(sid, usersapi.NewMemoryTokenStore()),
			auth.WithSessionID(sid),
			auth.WithResendCooldown(cfg.Auth.ResendCooldown),
			auth.WithLogger(logger.LoggerWrapper()),
		)
		return runLogin(cmd.Context(), m, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

type terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func (t *terminal) ask(prompt string) (string, bool) {
	fmt.Fprint(t.out, prompt)
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}

func runLogin(ctx context.Context, m *auth.Machine, in io.Reader, out io.Writer) error {
	t := &terminal{in: bufio.NewScanner(in), out: out}

	for m.State() != auth.StateAuthenticated {
		switch m.State() {
		case auth.StateLoggedOut:
			email, ok := t.ask("Email: ")
			if !ok {
				return io.ErrUnexpectedEOF
			}
			password, ok := t.ask("Password: ")
			if !ok {
				return io.ErrUnexpectedEOF
			}
			if res := m.Login(ctx, email, password); !res.OK {
				fmt.Fprintln(out, res.Message)
				continue
			}
			fmt.Fprintf(out, "A code was sent to %s. Enter it below, \"r\" to resend or \"b\" to go back.\n", m.Snapshot().Email)

		case auth.StateAwaitingCode:
			input, ok := t.ask("Code: ")
			if !ok {
				return io.ErrUnexpectedEOF
			}
			switch strings.ToLower(input) {
			case "r":
				res := m.ResendCode(ctx, "")
				if res.OK {
					fmt.Fprintln(out, "A new code is on its way.")
				} else {
					fmt.Fprintln(out, res.Message)
				}
				if wait := m.Snapshot().ResendCooldown; wait > 0 {
					fmt.Fprintf(out, "You can request another code in %ds.\n", wait)
				}
			case "b":
				m.Abandon()
			default:
				m.EnterCode(input)
				if res := m.ConfirmLogin(ctx, "", input); !res.OK {
					fmt.Fprintln(out, res.Message)
				}
			}
		}
	}

	snap := m.Snapshot()
	fmt.Fprintf(out, "Signed in as %s (%s)\n", snap.Principal.Email, snap.Role)
	printMenus(out, snap.Role)

	if _, ok := t.ask("Press enter to sign out "); ok {
		m.Logout(ctx)
		fmt.Fprintln(out, "Signed out.")
	}
	return nil
}

func printMenus(out io.Writer, role permission.Role) {
	menus := permission.Menus(role)
	if len(menus) == 0 {
		fmt.Fprintln(out, "No menus available.")
		return
	}
	for _, menu := range menus {
		actions := permission.PermittedActions(role, menu)
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		fmt.Fprintf(out, "  %-12s %s\n", menu, strings.Join(names, ", "))
	}
}

