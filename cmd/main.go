package main

import (
	"os"

	"github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"inkwell/pkg/config"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Scene extraction and visual reference planning for novels",
	Long: `inkwell splits a manuscript into chunks, ranks the most illustratable
scenes, classifies characters against a closed ontology and builds search
tokens and text-to-image prompts for each scene.

Run "inkwell serve" to start the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger = log.NewWithOptions(os.Stderr, log.Options{
			Level:           cfg.LogLevel(),
			ReportTimestamp: true,
		})
		log.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "inkwell.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(serveCmd, analyzeCmd, enginesCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
