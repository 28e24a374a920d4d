package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"cost-anomaly-engine/internal/app"
)

var (
	analyzeTenant  string
	analyzeAccount string
	analyzeDate    string

	backfillTenant  string
	backfillAccount string
	backfillFrom    string
	backfillTo      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run detection once for a tenant cloud account",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AnalyzeOptions{
			TenantID:       analyzeTenant,
			CloudAccountID: analyzeAccount,
		}
		if analyzeDate != "" {
			date, err := parseDay("date", analyzeDate)
			if err != nil {
				return err
			}
			opts.Date = date
		}
		return getApp().Analyze(cmd.Context(), opts)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run detection for every day in a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" {
			return errors.New("--from must be provided")
		}

		from, err := parseDay("from", backfillFrom)
		if err != nil {
			return err
		}

		to := time.Now().UTC().AddDate(0, 0, -1)
		if backfillTo != "" {
			if to, err = parseDay("to", backfillTo); err != nil {
				return err
			}
		}

		if from.After(to) {
			return errors.New("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			TenantID:       backfillTenant,
			CloudAccountID: backfillAccount,
			From:           from,
			To:             to,
		}
		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTenant, "tenant", "", "Tenant ID")
	analyzeCmd.Flags().StringVar(&analyzeAccount, "account", "", "Cloud account ID")
	analyzeCmd.Flags().StringVar(&analyzeDate, "date", "", "Day to analyse (YYYY-MM-DD, defaults to yesterday UTC)")
	_ = analyzeCmd.MarkFlagRequired("tenant")
	_ = analyzeCmd.MarkFlagRequired("account")

	backfillCmd.Flags().StringVar(&backfillTenant, "tenant", "", "Tenant ID")
	backfillCmd.Flags().StringVar(&backfillAccount, "account", "", "Cloud account ID")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day (YYYY-MM-DD, inclusive, defaults to yesterday UTC)")
	_ = backfillCmd.MarkFlagRequired("tenant")
	_ = backfillCmd.MarkFlagRequired("account")
}
