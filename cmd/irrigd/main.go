package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "irrigd",
	Short: "Irrigation and environmental controller core",
	Long: `irrigd is the core controller process for a priority-scheduled
irrigation and environmental control system: it owns GPIO and shift
register I/O, conditions sensor readings, evaluates alarms, and serves a
priority-classified HTTP API for monitoring and control.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
