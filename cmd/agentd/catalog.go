package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"voxelagent.ai/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the effective classification catalog as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat := catalog.Default()
		if cfg.Catalog.Override != "" {
			if cat, err = catalog.Load(cfg.Catalog.Override); err != nil {
				return err
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Digest string          `json:"digest"`
			Tables catalog.Summary `json:"tables"`
		}{cat.Digest(), cat.Summary()})
	},
}
