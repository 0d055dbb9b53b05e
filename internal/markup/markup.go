// Package markup converts Trac wiki markup into GitLab flavoured markdown.
//
// Conversion is an ordered list of independent rewrite rules, each a pure
// function over the whole text. Markup that no rule recognises is passed
// through unchanged, so translation never fails.
package markup

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a single named rewrite step.
type Rule struct {
	Name  string
	Apply func(string) string
}

var (
	headerPattern      = regexp.MustCompile(`(?m)^(=+)[ \t]*([^=].*?)[ \t]*(=+)[ \t]*$`)
	externalLinkPat    = regexp.MustCompile(`\[(https?://[^\s\]]+)\s+([^\]]+)\]`)
	wikiLinkPattern    = regexp.MustCompile(`\[wiki:([^\s\]]+)\s+([^\]]+)\]`)
	fencedLangPattern  = regexp.MustCompile(`(?s)\{\{\{\s*#!([^\n]*)\n(.*?)\}\}\}`)
	fencedPlainPattern = regexp.MustCompile(`(?s)\{\{\{[ \t]*\n(.*?)\}\}\}`)
	inlineCodePattern  = regexp.MustCompile(`\{\{\{([^\n]*?)\}\}\}`)
	boldItalicPattern  = regexp.MustCompile(`'''''(.+?)'''''`)
	boldPattern        = regexp.MustCompile(`'''(.+?)'''`)
	italicPattern      = regexp.MustCompile(`''(.+?)''`)
	bulletPattern      = regexp.MustCompile(`(?m)^[ \t]([ \t]*)\* `)
	orderedPattern     = regexp.MustCompile(`(?m)^[ \t]([ \t]*)\d+\. `)
	fencedBlockPattern = regexp.MustCompile("(?s)```[^\n]*\n(?:.*?\n)?```")
)

// maxHeadingLevel is the deepest heading markdown supports.
const maxHeadingLevel = 6

// PageRules returns the full rule set used for wiki pages, in application order.
func PageRules() []Rule {
	return []Rule{
		{Name: "headers", Apply: Headers},
		{Name: "external-links", Apply: ExternalLinks},
		{Name: "wiki-links", Apply: WikiLinks},
		{Name: "fenced-lang", Apply: FencedWithLanguage},
		{Name: "fenced-plain", Apply: FencedPlain},
		{Name: "inline-code", Apply: InlineCode},
		{Name: "emphasis", Apply: outsideFences(Emphasis)},
		{Name: "bullet-lists", Apply: outsideFences(BulletLists)},
		{Name: "ordered-lists", Apply: outsideFences(OrderedLists)},
		{Name: "tables", Apply: outsideFences(Tables)},
	}
}

// outsideFences restricts rule to the text between fenced code blocks, so
// code keeps its quotes, asterisks and pipes.
func outsideFences(rule func(string) string) func(string) string {
	return func(text string) string {
		var b strings.Builder
		last := 0
		for _, loc := range fencedBlockPattern.FindAllStringIndex(text, -1) {
			b.WriteString(rule(text[last:loc[0]]))
			b.WriteString(text[loc[0]:loc[1]])
			last = loc[1]
		}
		b.WriteString(rule(text[last:]))
		return b.String()
	}
}

// InlineRules returns the link and code subset used for ticket text.
func InlineRules() []Rule {
	return []Rule{
		{Name: "external-links", Apply: ExternalLinks},
		{Name: "wiki-links", Apply: WikiLinks},
		{Name: "fenced-lang", Apply: FencedWithLanguage},
		{Name: "fenced-plain", Apply: FencedPlain},
		{Name: "inline-code", Apply: InlineCode},
	}
}

// Apply runs rules over text from left to right.
func Apply(text string, rules []Rule) string {
	for _, r := range rules {
		text = r.Apply(text)
	}
	return text
}

// Page translates a full wiki page.
func Page(text string) string {
	return Apply(normalizeNewlines(text), PageRules())
}

// Inline translates ticket descriptions and comments.
func Inline(text string) string {
	return Apply(normalizeNewlines(text), InlineRules())
}

// Trac stores text as entered in the browser, usually with CRLF endings.
func normalizeNewlines(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// Headers converts "== Title ==" lines into "## Title". Lines whose opening
// and closing markers differ in length are left alone.
func Headers(text string) string {
	return headerPattern.ReplaceAllStringFunc(text, func(line string) string {
		m := headerPattern.FindStringSubmatch(line)
		if len(m[1]) != len(m[3]) {
			return line
		}
		level := min(len(m[1]), maxHeadingLevel)
		return strings.Repeat("#", level) + " " + m[2]
	})
}

// ExternalLinks converts "[http://url Label]" into "[Label](http://url)".
func ExternalLinks(text string) string {
	return externalLinkPat.ReplaceAllString(text, "[${2}](${1})")
}

// WikiLinks converts "[wiki:Page Label]" into "[Label](Page)".
func WikiLinks(text string) string {
	return wikiLinkPattern.ReplaceAllString(text, "[${2}](${1})")
}

// FencedWithLanguage converts processor blocks such as "{{{\n#!python\n...}}}".
// Only the first word of the processor line is kept as the language.
func FencedWithLanguage(text string) string {
	return fencedLangPattern.ReplaceAllStringFunc(text, func(block string) string {
		m := fencedLangPattern.FindStringSubmatch(block)
		lang := ""
		if fields := strings.Fields(m[1]); len(fields) > 0 {
			lang = fields[0]
		}
		return fence(lang, m[2])
	})
}

// FencedPlain converts multi-line "{{{ ... }}}" blocks without a processor.
func FencedPlain(text string) string {
	return fencedPlainPattern.ReplaceAllStringFunc(text, func(block string) string {
		m := fencedPlainPattern.FindStringSubmatch(block)
		return fence("", m[1])
	})
}

func fence(lang, body string) string {
	body = trimBlankLines(body)
	if body == "" {
		return "```" + lang + "\n```"
	}
	return fmt.Sprintf("```%s\n%s\n```", lang, body)
}

// trimBlankLines drops leading and trailing lines that contain only
// whitespace. Indentation of the remaining lines is preserved.
func trimBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// InlineCode converts single-line "{{{code}}}" spans into backtick spans.
func InlineCode(text string) string {
	return inlineCodePattern.ReplaceAllStringFunc(text, func(span string) string {
		code := strings.TrimSpace(inlineCodePattern.FindStringSubmatch(span)[1])
		if strings.Contains(code, "`") {
			return "`` " + code + " ``"
		}
		return "`" + code + "`"
	})
}

// Emphasis converts bold and italic quotes. Bold runs first so the italic
// pattern never sees the inner quotes of a bold span.
func Emphasis(text string) string {
	text = boldItalicPattern.ReplaceAllString(text, "***${1}***")
	text = boldPattern.ReplaceAllString(text, "**${1}**")
	return italicPattern.ReplaceAllString(text, "*${1}*")
}

// BulletLists removes one level of indentation from "* " items and turns
// the marker into "- ".
func BulletLists(text string) string {
	return bulletPattern.ReplaceAllString(text, "${1}- ")
}

// OrderedLists removes one level of indentation from "N. " items. Every
// item becomes "1. " and numbering is left to the renderer.
func OrderedLists(text string) string {
	return orderedPattern.ReplaceAllString(text, "${1}1. ")
}

// Tables converts runs of "||a||b||" lines into a markdown pipe table. The
// first row of each run is the header and is followed by a separator row.
func Tables(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+1)
	inTable := false
	for _, line := range lines {
		if !isTableRow(line) {
			inTable = false
			out = append(out, line)
			continue
		}
		cells := tableCells(line)
		out = append(out, "| "+strings.Join(cells, " | ")+" |")
		if !inTable {
			out = append(out, strings.Repeat("| --- ", len(cells))+"|")
			inTable = true
		}
	}
	return strings.Join(out, "\n")
}

func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) >= 4 && strings.HasPrefix(t, "||") && strings.HasSuffix(t, "||")
}

// tableCells splits a row on "||" and drops the empty leading and trailing
// segments, so a row with n segments yields n-2 cells.
func tableCells(line string) []string {
	segments := strings.Split(strings.TrimSpace(line), "||")
	cells := segments[1 : len(segments)-1]
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
