package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicwatch/expense-audit/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "expense-audit",
	Short: "Legislative expense audit pipeline",
	Long:  "Extracts legislator expense records from the open-data API, validates and aggregates them, scores spending patterns against a suspicion rule set, and loads rankings and statistics into a document store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
