// Package app provides the entry point for the takagi command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/celsiusnarhwal/takagi/pkg/config"
	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "takagi",
	DisableAutoGenTag: true,
	Short:             "Takagi lets you use GitHub as an OpenID Connect provider",
	Long: `Takagi presents GitHub as an OpenID Connect 1.0 provider, so anything that
speaks OIDC can authenticate users with their GitHub accounts. Run with
--service snowflake to present Discord instead.

Relying parties bring their own GitHub (or Discord) OAuth application;
Takagi itself holds no upstream credentials.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Re-initialize now that the debug flag has been parsed.
		logger.Initialize()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the Takagi CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().String("service", config.Takagi.Slug, "Service persona to run (takagi or snowflake)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")

	if err := viper.BindPFlag("service", rootCmd.PersistentFlags().Lookup("service")); err != nil {
		logger.Fatalf("Failed to bind service flag: %v", err)
	}
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("Failed to bind debug flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(rotateCmd)

	return rootCmd
}

// selectedService resolves the --service flag to a service profile.
func selectedService() (config.Service, error) {
	return config.ServiceBySlug(viper.GetString("service"))
}
