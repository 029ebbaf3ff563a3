// Package parser recognizes job-description files and mines job fields from them.
package parser

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from first h1 or frontmatter
	Title string

	// Main content (after frontmatter)
	Content string
}

var h1Regex = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// ParseMarkdown splits a Markdown document into front matter and body.
// Invalid YAML front matter is ignored.
func ParseMarkdown(content string) *MarkdownDoc {
	doc := &MarkdownDoc{
		Frontmatter: make(map[string]any),
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil || doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	return doc
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// GetFrontmatterString extracts a string from frontmatter. Scalars that YAML
// decoded as other types (dates, numbers) are formatted back to text.
func (d *MarkdownDoc) GetFrontmatterString(keys ...string) string {
	return stringField(d.Frontmatter, keys...)
}
