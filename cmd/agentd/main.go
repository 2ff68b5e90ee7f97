// Command agentd runs the embodied world agent and its control API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelagent.ai/internal/config"
	"voxelagent.ai/internal/logging"
	"voxelagent.ai/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "agentd",
	Short:         "Embodied voxel world agent",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to agent.yaml")
	rootCmd.AddCommand(serveCmd, versionCmd, catalogCmd, journalCmd)
}

// loadConfig reads the file, then env overrides. Flags are applied by the
// caller.
func loadConfig() (config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return c, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return c, err
	}
	return c, nil
}

func newLogger(c config.Config) (*zap.Logger, error) {
	return logging.New(c.Logging.Level, c.Logging.Format)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentd:", err)
		os.Exit(1)
	}
}
