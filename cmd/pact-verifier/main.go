package main

import (
	"os"

	"github.com/form3tech-oss/pact-verifier/internal/app/configuration"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	config    configuration.Config
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "pact-verifier",
	Short:         "Verify providers against consumer contracts and serve contracts as stubs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = configuration.NewFromEnv(cmd.Context())
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			config.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			config.LogFormat = logFormat
		}
		return config.ConfigureLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (env LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format, text or json (env LOG_FORMAT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
