package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-dashboard/internal/audit"
	auditPostgres "github.com/frahmantamala/payment-dashboard/internal/audit/postgres"
	auditDatamodel "github.com/frahmantamala/payment-dashboard/internal/core/datamodel/audit"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

var (
	auditCmd = &cobra.Command{
		RunE:  runAudit,
		Use:   "audit",
		Short: "List recent sign-in attempts",
	}
	auditEmail   string
	auditSession string
	auditLimit   int
)

func init() {
	auditCmd.Flags().StringVar(&auditEmail, "email", "", "only attempts for this email")
	auditCmd.Flags().StringVar(&auditSession, "session", "", "only attempts from this browser session")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "number of attempts to show")
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("database.source is not configured")
	}

	db, err := initDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	gormDB, err := initGorm(db)
	if err != nil {
		return err
	}

	service := audit.NewService(auditPostgres.NewAuditRepository(gormDB), logger.LoggerWrapper())
	rows, err := service.Recent(cmd.Context(), audit.Filter{
		Email:     auditEmail,
		SessionID: auditSession,
		Limit:     auditLimit,
	})
	if err != nil {
		return err
	}
	return printAttempts(cmd.OutOrStdout(), rows)
}

func printAttempts(out io.Writer, rows []*auditDatamodel.AuthAttempt) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No attempts recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tEMAIL\tSTEP\tRESULT\tDURATION\tMESSAGE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime),
			r.SessionID,
			r.Email,
			r.Step,
			r.Result,
			time.Duration(r.DurationMS)*time.Millisecond,
			r.Message)
	}
	return tw.Flush()
}
