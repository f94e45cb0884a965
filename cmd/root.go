// Package cmd holds the vitrine command-line interface. The commands
// are maintenance entry points around the same internal packages the
// embedding UI uses; nothing here is required for browsing.
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentic-research/vitrine/internal/config"
)

var (
	cfgPath  string
	logLevel string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vitrine",
	Short: "Vitrine: virtual data-access layer for huge media directories",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		log.SetLevel(level)
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to HCL config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "Log level (debug, info, warning, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
