package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cost-anomaly-engine/internal/app"
)

var (
	simulateService  string
	simulateProvider string
	simulateBaseline float64
	simulateActual   float64
	simulateDays     int
	simulatePNG      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-anomaly",
	Short: "Run detection over a synthetic in-memory ledger and fire alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBaseline <= 0 || simulateActual < 0 {
			return errors.New("--baseline must be greater than 0 and --actual cannot be negative")
		}

		_, err := getApp().SimulateAnomaly(cmd.Context(), app.SimulateOptions{
			Service:      simulateService,
			Provider:     simulateProvider,
			Baseline:     decimal.NewFromFloat(simulateBaseline),
			Actual:       decimal.NewFromFloat(simulateActual),
			HistoryDays:  simulateDays,
			PNGPath:      simulatePNG,
			OutputWriter: cmd.OutOrStdout(),
		})
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateService, "service", "ec2", "Service name")
	simulateCmd.Flags().StringVar(&simulateProvider, "provider", "aws", "Cloud provider")
	simulateCmd.Flags().Float64Var(&simulateBaseline, "baseline", 100, "Daily spend during the history window")
	simulateCmd.Flags().Float64Var(&simulateActual, "actual", 700, "Spend on the analysed day")
	simulateCmd.Flags().IntVar(&simulateDays, "days", 14, "Days of baseline history")
	simulateCmd.Flags().StringVar(&simulatePNG, "png", "", "Optional path to chart the synthetic history")
}
