// ABOUTME: Markdown rendering helper for static rich-text field content.
// ABOUTME: Used by the debug handler and watcher CLI to preview content fields.
package schema

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

var contentMarkdown = goldmark.New()

// RenderContent renders a rich-text field's markdown content to HTML.
func RenderContent(md string) (string, error) {
	var buf bytes.Buffer
	if err := contentMarkdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	return buf.String(), nil
}
