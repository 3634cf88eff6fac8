package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gas-monitor/internal/logging"
	"gas-monitor/pkg/config"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "gas-monitor",
	Short: "Classify gas sensor readings as Safe, Warning or Danger",
	Long: `gas-monitor polls a ThingSpeak channel (or an MQTT topic) for gas
concentration readings, classifies each new reading and raises audible,
email and MQTT alerts for Warning and Danger levels.

Examples:
  gas-monitor serve                 # headless loop with HTTP API
  gas-monitor watch                 # terminal dashboard
  gas-monitor predict -t 25 -u 50 -g 320
  gas-monitor model init`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("auto-start", false, "Start automatic prediction immediately (overrides AUTO_START)")
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("auto-start", false, "Start automatic prediction when the dashboard opens")
	watchCmd.Flags().String("log-file", "gas-monitor.log", "File receiving logs while the dashboard owns the terminal")

	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().Float64VarP(&predictTemperature, "temperature", "t", 0, "Temperature in °C (0-100)")
	predictCmd.Flags().Float64VarP(&predictHumidity, "humidity", "u", 0, "Relative humidity in % (0-100)")
	predictCmd.Flags().Float64VarP(&predictGas, "gas", "g", 0, "Gas concentration in PPM")

	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelInitCmd)
	modelInitCmd.Flags().String("path", "", "Output path (defaults to MODEL_PATH)")
}

// loadConfig reads the environment and builds the logger
func loadConfig() (*config.Config, *logrus.Logger) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
