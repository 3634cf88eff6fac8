package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"gas-monitor/internal/dashboard"
	"gas-monitor/internal/services"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the terminal dashboard",
	Long: `Opens the interactive dashboard for automatic prediction.

Keys:
  s  start automatic prediction
  x  stop automatic prediction
  q  stop and quit`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	autoStart := cfg.AutoStart
	if cmd.Flags().Changed("auto-start") {
		autoStart, _ = cmd.Flags().GetBool("auto-start")
	}

	// the dashboard owns the terminal, logs go to a file
	logPath, _ := cmd.Flags().GetString("log-file")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logger.SetOutput(logFile)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	presenter := &dashboard.Presenter{}
	loop, err := a.buildLoop(ctx, services.MultiPresenter{presenter, services.NewLogPresenter(logger)})
	if err != nil {
		return err
	}
	a.start(ctx)

	p := tea.NewProgram(dashboard.New(ctx, loop, autoStart), tea.WithAltScreen(), tea.WithContext(ctx))
	presenter.Attach(p)

	_, err = p.Run()
	loop.Stop()
	loop.Wait()
	cancel()
	a.wait()
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
