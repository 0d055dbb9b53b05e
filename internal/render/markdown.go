package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/danielolaszy/trac2gitlab/pkg/models"
)

var htmlRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

var headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// PreviewHeading names the Trac page, its version and the wiki title it
// will be created under.
func PreviewHeading(page models.WikiPage, title string) string {
	return fmt.Sprintf("%s (version %d) -> %s", page.Name, page.Version, title)
}

// Preview renders the translated content of page for the terminal, below
// a heading from PreviewHeading. Without colors the markdown is shown as is,
// which is exactly what GitLab will receive.
func Preview(page models.WikiPage, title, content string) (string, error) {
	heading := PreviewHeading(page, title)
	if !ColorsEnabled() {
		if content == "" {
			return heading + "\n", nil
		}
		return heading + "\n\n" + content + "\n", nil
	}

	heading = headingStyle.Render(heading)
	if content == "" {
		return heading + "\n", nil
	}

	rendered, err := glamour.RenderWithEnvironmentConfig(content)
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", page.Name, err)
	}
	return heading + "\n\n" + strings.TrimSpace(rendered) + "\n", nil
}

// HTML renders markdown as a standalone HTML document titled title. GFM
// tables, strikethrough and autolinks are enabled so the output is close to
// what GitLab shows.
func HTML(title, content string) (string, error) {
	var body bytes.Buffer
	if err := htmlRenderer.Convert([]byte(content), &body); err != nil {
		return "", fmt.Errorf("rendering %s: %w", title, err)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	b.WriteString("</head>\n<body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}
