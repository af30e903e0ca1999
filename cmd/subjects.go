package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rotisserie/eris"
)

var subjectsLegislature string

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "List the subjects a run would cover",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Upstream.BaseURL == "" {
			return eris.New("upstream.base_url is required")
		}

		api, _ := initUpstream(cfg.Upstream)
		subjects, err := api.ListSubjects(ctx, subjectsLegislature)
		if err != nil {
			return eris.Wrap(err, "list subjects")
		}
		zap.L().Info("subjects listed", zap.Int("count", len(subjects)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(subjects)
	},
}

func init() {
	subjectsCmd.Flags().StringVar(&subjectsLegislature, "legislature", "", "legislature to list (default: upstream's current)")
	rootCmd.AddCommand(subjectsCmd)
}
