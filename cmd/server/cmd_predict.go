package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"gas-monitor/internal/dashboard"
	"gas-monitor/internal/models"
)

var (
	predictTemperature float64
	predictHumidity    float64
	predictGas         float64
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Classify a single manually entered reading",
	Long: `Classifies one reading and raises the same alerts as automatic
prediction. The result is not added to the automatic history.

Example:
  gas-monitor predict --temperature 25 --humidity 50 --gas 320`,
	RunE: runPredict,
}

func runPredict(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	// the process exits right after, so mail is sent inline
	cfg.MailAsync = false

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.manual.Predict(cmd.Context(), predictTemperature, predictHumidity, predictGas)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	badge := lipgloss.NewStyle().Bold(true).Foreground(dashboard.LevelColor(p.Event.Level)).Render(p.Event.Level.String())
	fmt.Fprintf(out, "Prediction: %s\n", badge)
	fmt.Fprintln(out, dashboard.RenderTable([]models.ClassifiedEvent{p.Event}, 0))
	if p.AlertErr != nil {
		fmt.Fprintf(out, "Warning: alert delivery failed: %v\n", p.AlertErr)
	}
	return nil
}
