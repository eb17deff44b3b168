package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jhwbarlow/tcp-audit-probe/internal/config"
	"github.com/jhwbarlow/tcp-audit-probe/internal/logger"
)

const exitCodeError = 1

var (
	verbose    bool
	configFile string
	version    string
	commit     string
	buildDate  string
)

// v holds every setting; flags, the config file and the environment all feed it.
var v = config.NewViper()

var rootCmd = cobra.Command{
	Use:          "tcp-audit-probe",
	Short:        "Captures TCP state changes of IPv4 sockets",
	Version:      versionFormatter(version, commit, buildDate),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file: %w", err)
			}
		}

		logLevel := v.GetString(config.KeyLogLevel)
		if verbose {
			logLevel = "debug"
		}
		logger.SetLevel(logLevel)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "more logs")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")

	_ = v.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute adds all child commands to the root command and runs it.
func Execute(args []string) {
	rootCmd.SetArgs(args)

	rootCmd.AddCommand(initRunCommand())
	rootCmd.AddCommand(initLayoutCommand())

	if err := rootCmd.Execute(); err != nil {
		qwe(exitCodeError, err, "failed to execute root command")
	}
}

func versionFormatter(ver, commit, buildDate string) string {
	if ver == "" && buildDate == "" && commit == "" {
		return "tcp-audit-probe version (built from source)"
	}

	return fmt.Sprintf("%s (build date: %s commit: %s)", ver, buildDate, commit)
}

// qwe quits with error. If there are messages, wraps error with message
func qwe(code int, err error, messages ...string) {
	for _, m := range messages {
		err = fmt.Errorf("%s: %w", m, err)
	}

	logger.Log.Errorf("%v", err)
	os.Exit(code)
}
