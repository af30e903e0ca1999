package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/civicwatch/expense-audit/internal/score"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective scoring rule parameters",
	Long:  "Prints the default rule thresholds and weights with the configured rules file overlaid, as the scoring engine will see them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := score.LoadParams(cfg.Score.RulesFile)
		if err != nil {
			return err
		}
		if cfg.Score.MonthlyLimit > 0 {
			params.MonthlyLimit = cfg.Score.MonthlyLimit
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(params)
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}
