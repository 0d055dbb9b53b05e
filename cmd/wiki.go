package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/trac2gitlab/internal/render"
	"github.com/danielolaszy/trac2gitlab/internal/trac"
)

func newWikiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wiki",
		Short: "Migrate the Trac wiki into the GitLab project wiki",
		Long: `Translate the latest version of every Trac wiki page to markdown and create
it in the GitLab project wiki. WikiStart becomes the home page. Trac's own
help pages are skipped, as are the pages listed in the wiki_exclude setting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			reader, err := trac.Open(ctx, cfg.Trac)
			if err != nil {
				return err
			}
			defer reader.Close()

			m := newMigrator(cmd, cfg, reader)
			result := m.Result()
			result.Started = time.Now()
			err = m.MigrateWiki(ctx)
			result.Duration = time.Since(result.Started)

			fmt.Fprint(cmd.OutOrStdout(), render.Summary(result))
			if err != nil {
				return fmt.Errorf("wiki migration stopped: %w", err)
			}
			return nil
		},
	}
}
