// Package cmd provides the CLI commands for voxlink.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxhub/voxlink/internal/config"
	"github.com/voxhub/voxlink/internal/logging"
)

var (
	// Global flags
	configPath    string
	serverURL     string
	appLabel      string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "voxlink",
	Short: "voxlink - a client for conversational hub servers",
	Long: `Voxlink connects a local application to a remote conversational
hub over a persistent socket connection.

It can run an interactive chat from the terminal, relay background
context into a session, and execute configured triggers when events
arrive from the hub.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Priority: --log-level flag > --debug flag > config > default (info)
		effectiveLogLevel := ""
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		var err error
		cfg, err = config.LoadOrDefault(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if serverURL != "" {
			cfg.Server.URL = serverURL
		}
		if appLabel != "" {
			cfg.Server.Label = appLabel
		}
		if effectiveLogLevel == "" {
			effectiveLogLevel = cfg.Logging.Level
		}

		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		} else {
			components = cfg.Logging.Components
		}

		logCfg := logging.Config{
			Level:      effectiveLogLevel,
			JSON:       cfg.Logging.JSON,
			Components: components,
		}
		file := logFile
		if file == "" {
			file = cfg.Logging.File
		}
		if file != "" {
			logCfg.FileLog = &logging.FileLogConfig{
				Path:       file,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
			}
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "Hub base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&appLabel, "label", "", "Application label (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log")
}
