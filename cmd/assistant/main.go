package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/pkg/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Ruya Capital customer assistant",
	Long: `Bilingual (Arabic/English) assistant for Ruya Capital, an AI-agent consultancy.

Answers visitor questions from the company knowledge base over an HTTP API,
a WebSocket channel and Telegram, and flags conversations that need a
human consultant.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load env file: %w", err)
		}

		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		log, err = logger.NewLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")

	rootCmd.AddCommand(serveCmd, chatCmd, kbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
