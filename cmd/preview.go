package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/trac2gitlab/internal/logging"
	"github.com/danielolaszy/trac2gitlab/internal/markup"
	"github.com/danielolaszy/trac2gitlab/internal/migrate"
	"github.com/danielolaszy/trac2gitlab/internal/render"
	"github.com/danielolaszy/trac2gitlab/internal/trac"
)

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview PAGE",
		Short: "Show the markdown translation of a Trac wiki page",
		Long: `Translate the latest version of one Trac wiki page and render the result in
the terminal, or write it as an HTML document with --html. Nothing is written
to GitLab and only the Trac settings are required.

Example:
  trac2gitlab preview WikiStart --html wikistart.html`,
		Args: cobra.ExactArgs(1),
		RunE: runPreview,
	}

	cmd.Flags().String("html", "", "write the page as HTML to this file instead")
	return cmd
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	htmlPath, err := cmd.Flags().GetString("html")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reader, err := trac.Open(ctx, cfg.Trac)
	if err != nil {
		return err
	}
	defer reader.Close()

	name := args[0]
	page, err := reader.GetWikiPage(ctx, name)
	if err != nil {
		return err
	}
	if !page.Exists {
		return fmt.Errorf("wiki page %q not found", name)
	}

	content := markup.Page(page.Text)
	title := migrate.WikiTitle(name)

	if htmlPath != "" {
		doc, err := render.HTML(title, content)
		if err != nil {
			return err
		}
		if err := os.WriteFile(htmlPath, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", htmlPath, err)
		}
		logging.Info("wrote preview", "page", name, "version", page.Version, "file", htmlPath)
		return nil
	}

	out, err := render.Preview(page, title, content)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
