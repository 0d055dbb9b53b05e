// Package cmd provides the command-line interface for trac2gitlab.
package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/danielolaszy/trac2gitlab/internal/config"
	"github.com/danielolaszy/trac2gitlab/internal/logging"
)

type contextKey string

const runIDKey contextKey = "run_id"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trac2gitlab",
		Short: "trac2gitlab migrates a Trac project into GitLab",
		Long: `trac2gitlab reads a Trac environment (database and attachment files) and
replays it into a GitLab project. Trac users with an email address become
GitLab users, tickets become issues with the same numbers and their
comments, field changes and attachments become notes in time order.

Wiki pages are translated from Trac wiki markup to markdown and can be
migrated with the wiki command, or together with the tickets using
migrate --wiki. Use preview to check the translation of a page first.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := cmd.Flags().GetString("log-level")
			if err != nil {
				return err
			}
			logLevel := logging.LevelFromEnv()
			if level != "" {
				logLevel = logging.LogLevel(level)
			}

			logFile, err := cmd.Flags().GetString("log-file")
			if err != nil {
				return err
			}
			if logFile != "" {
				if err := logging.SetupFileLogger(cmd.ErrOrStderr(), logFile, logLevel); err != nil {
					return err
				}
			} else {
				logging.SetupLogger(cmd.ErrOrStderr(), logLevel)
			}

			runID := uuid.New().String()
			logging.With("run_id", runID)
			cmd.SetContext(context.WithValue(cmd.Context(), runIDKey, runID))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseLogFile()
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "settings file (default \""+config.DefaultSettingsFile+"\")")
	root.PersistentFlags().String("log-file", "", "also write log output to this file")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error (default $LOG_LEVEL or info)")
	root.SilenceErrors = true
	root.SilenceUsage = true

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newWikiCmd())
	root.AddCommand(newPreviewCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func getRunID(cmd *cobra.Command) string {
	runID, _ := cmd.Context().Value(runIDKey).(string)
	return runID
}

// loadConfig reads the settings named by --config. Commands that only read
// from Trac pass sourceOnly so the GitLab settings may be left out.
func loadConfig(cmd *cobra.Command, sourceOnly bool) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.ReadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	validate := config.Validate
	if sourceOnly {
		validate = config.ValidateSource
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
