package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gas-monitor/internal/ml"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage the classification model file",
}

var modelInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the sample model to MODEL_PATH",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _ := loadConfig()
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = cfg.ModelPath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
		if err := ml.CreateSampleModel(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sample model written to %s\n", path)
		return nil
	},
}
