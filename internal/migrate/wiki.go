package migrate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/danielolaszy/trac2gitlab/internal/logging"
	"github.com/danielolaszy/trac2gitlab/internal/markup"
)

// DefaultWikiExclusions are the Trac help pages that are never migrated.
// Pages whose names start with "Trac" are excluded as well.
var DefaultWikiExclusions = []string{
	"WikiDeletePage", "WikiNewPage", "WikiPageNames", "WikiRestructuredTextLinks",
	"Sandbox", "InterWiki", "PageTemplates", "RecentChanges", "InterMapTxt",
	"InterTrac", "WikiFormatting", "WikiMacros", "WikiProcessors",
	"WikiRestructuredText", "WikiHtml",
}

// IsExcludedWikiPage reports whether the page called name is skipped.
func IsExcludedWikiPage(name string, extra []string) bool {
	return strings.HasPrefix(name, "Trac") ||
		slices.Contains(DefaultWikiExclusions, name) ||
		slices.Contains(extra, name)
}

// WikiTitle maps a Trac page name to its GitLab wiki title.
func WikiTitle(name string) string {
	if name == "WikiStart" {
		return "home"
	}
	return name
}

// MigrateWiki translates every wiki page that is not excluded and creates
// it in the destination wiki.
func (m *Migrator) MigrateWiki(ctx context.Context) error {
	names, err := m.src.ListWikiPageNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to read trac wiki pages: %w", err)
	}

	logging.Info("migrating wiki pages", "count", len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		if IsExcludedWikiPage(name, m.opts.WikiExclude) {
			logging.Info("skipping excluded wiki page", "page", name)
			m.result.Wiki.Skipped++
			continue
		}

		page, err := m.src.GetWikiPage(ctx, name)
		if err != nil {
			logging.Error("failed to read wiki page", "page", name, "error", err)
			m.result.Wiki.Failed++
			continue
		}
		if !page.Exists {
			m.result.Wiki.Skipped++
			continue
		}

		title := WikiTitle(name)
		if err := m.dst.CreateWikiPage(ctx, title, markup.Page(page.Text)); err != nil {
			logging.Error("failed to create wiki page", "page", name, "title", title, "error", err)
			m.result.Wiki.Failed++
			continue
		}
		m.result.Wiki.Done++
	}

	return nil
}
