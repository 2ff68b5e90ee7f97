package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxelagent.ai/internal/journal"
)

var journalDir string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the action and reflex journal",
}

var journalCatCmd = &cobra.Command{
	Use:       "cat [actions|reflexes]",
	Short:     "Print journal entries as JSON lines, oldest first",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{journal.PrefixActions, journal.PrefixReflexes},
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := journalDir
		if dir == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir = cfg.Journal.Dir
		}
		files, err := journal.Files(dir, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, f := range files {
			if err := journal.ReadFile(f, func(line []byte) error {
				_, err := fmt.Fprintln(out, string(line))
				return err
			}); err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
		}
		return nil
	},
}

func init() {
	journalCatCmd.Flags().StringVar(&journalDir, "dir", "", "journal directory (overrides config)")
	journalCmd.AddCommand(journalCatCmd)
}
