package cli

import (
	"github.com/spf13/cobra"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/app"
)

var (
	listTenant   string
	listStatus   string
	listSeverity string
	listProvider string
	listService  string
	listFrom     string
	listTo       string
	listJSON     bool
)

var anomaliesCmd = &cobra.Command{
	Use:     "anomalies",
	Aliases: []string{"list"},
	Short:   "List a tenant's anomalies, most severe and most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseOptionalDay("from", listFrom)
		if err != nil {
			return err
		}
		end, err := parseOptionalDay("to", listTo)
		if err != nil {
			return err
		}

		opts := app.ListOptions{
			TenantID: listTenant,
			JSON:     listJSON,
			Filters: anomaly.Filters{
				Status:    anomaly.Status(listStatus),
				Severity:  anomaly.Severity(listSeverity),
				Provider:  listProvider,
				Service:   listService,
				StartDate: start,
				EndDate:   end,
			},
		}
		return getApp().ListAnomalies(cmd.Context(), opts)
	},
}

func init() {
	anomaliesCmd.Flags().StringVar(&listTenant, "tenant", "", "Tenant ID")
	anomaliesCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (open, investigating, resolved)")
	anomaliesCmd.Flags().StringVar(&listSeverity, "severity", "", "Filter by severity (low, medium, high, critical)")
	anomaliesCmd.Flags().StringVar(&listProvider, "provider", "", "Filter by cloud provider")
	anomaliesCmd.Flags().StringVar(&listService, "service", "", "Filter by service")
	anomaliesCmd.Flags().StringVar(&listFrom, "from", "", "Earliest anomaly date (YYYY-MM-DD, inclusive)")
	anomaliesCmd.Flags().StringVar(&listTo, "to", "", "Latest anomaly date (YYYY-MM-DD, inclusive)")
	anomaliesCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
	_ = anomaliesCmd.MarkFlagRequired("tenant")
}
