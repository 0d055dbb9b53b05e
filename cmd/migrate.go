package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/trac2gitlab/internal/config"
	"github.com/danielolaszy/trac2gitlab/internal/gitlab"
	"github.com/danielolaszy/trac2gitlab/internal/logging"
	"github.com/danielolaszy/trac2gitlab/internal/migrate"
	"github.com/danielolaszy/trac2gitlab/internal/render"
	"github.com/danielolaszy/trac2gitlab/internal/trac"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate users and tickets into GitLab",
		Long: `Migrate users and tickets from Trac into the configured GitLab project.

1. Every username listed in the usernames file that has an email address in
   Trac is created as a GitLab user
2. Every ticket is created as an issue with the ticket id as its number,
   labelled with its component, priority, resolution and version and
   assigned to its milestone
3. Comments, field changes and attachments are added as notes in time order
4. Resolved tickets are closed

Failures of single users, issues or notes are logged and counted; the run
carries on. The GitLab project should be empty so issue numbers line up.

Example:
  trac2gitlab migrate -c settings.json --usernames users.txt --wiki`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.Flags().String("usernames", "", "file with one Trac username per line (default: usernames_file setting)")
	cmd.Flags().Bool("skip-users", false, "do not create GitLab users")
	cmd.Flags().Bool("wiki", false, "migrate the wiki after the tickets")
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	skipUsers, err := cmd.Flags().GetBool("skip-users")
	if err != nil {
		return err
	}
	withWiki, err := cmd.Flags().GetBool("wiki")
	if err != nil {
		return err
	}

	var usernames []string
	if !skipUsers {
		path, err := cmd.Flags().GetString("usernames")
		if err != nil {
			return err
		}
		if path == "" {
			path = cfg.Migration.UsernamesFile
		}
		usernames, err = trac.LoadUsernames(path)
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	reader, err := trac.Open(ctx, cfg.Trac)
	if err != nil {
		return err
	}
	defer reader.Close()

	logging.Info("starting migration",
		"trac_env", cfg.Trac.EnvPath,
		"gitlab", cfg.GitLab.APIURL,
		"project_id", cfg.GitLab.ProjectID,
		"token", logging.MaskSensitive(cfg.GitLab.Token))

	m := newMigrator(cmd, cfg, reader)
	result, runErr := m.Run(ctx, usernames)
	if runErr == nil && withWiki {
		runErr = m.MigrateWiki(ctx)
		result.Duration = time.Since(result.Started)
	}

	fmt.Fprint(cmd.OutOrStdout(), render.Summary(result))
	if runErr != nil {
		return fmt.Errorf("migration stopped: %w", runErr)
	}
	return nil
}

func newWriter(cfg *config.Config) *gitlab.Writer {
	opts := []gitlab.Option{
		gitlab.WithTimeout(cfg.GitLab.RequestTimeout),
		gitlab.WithRetry(cfg.GitLab.MaxRetryElapsed),
	}
	if cfg.GitLab.Auth == config.AuthOAuth {
		opts = append(opts, gitlab.WithOAuth())
	}

	client := gitlab.NewClient(cfg.GitLab.Token, cfg.GitLab.APIURL, cfg.GitLab.ProjectID, opts...)
	return gitlab.NewWriter(client, cfg.Migration.LabelColor)
}

func newMigrator(cmd *cobra.Command, cfg *config.Config, reader *trac.Reader) *migrate.Migrator {
	return migrate.New(reader, newWriter(cfg), migrate.Options{
		RunID:           getRunID(cmd),
		StrictNumbering: cfg.Migration.StrictNumbering,
		WikiExclude:     cfg.Migration.WikiExclude,
	})
}
