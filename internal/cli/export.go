package cli

import (
	"github.com/spf13/cobra"

	"cost-anomaly-engine/internal/app"
)

var (
	exportTenant    string
	exportService   string
	exportProvider  string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export anomalies as CSV and/or a service spend chart as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			TenantID:  exportTenant,
			Service:   exportService,
			Provider:  exportProvider,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		var err error
		if opts.From, err = parseOptionalDay("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseOptionalDay("to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTenant, "tenant", "", "Tenant ID")
	exportCmd.Flags().StringVar(&exportService, "service", "", "Service to export (required for --png)")
	exportCmd.Flags().StringVar(&exportProvider, "provider", "", "Provider to export (required for --png)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last day (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum days to chart (defaults to config)")
	_ = exportCmd.MarkFlagRequired("tenant")
}
