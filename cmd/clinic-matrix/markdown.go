// ABOUTME: Markdown rendering for replies posted to Matrix rooms
// ABOUTME: Produces the HTML formatted_body alongside the plain text body

package main

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))

// renderHTML converts assistant markdown to HTML. ok is false when the text
// has no markup worth sending as formatted_body.
func renderHTML(text string) (html string, ok bool) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", false
	}
	html = strings.TrimSpace(buf.String())

	// A lone paragraph with no inline markup adds nothing over the body.
	plain := strings.TrimSuffix(strings.TrimPrefix(html, "<p>"), "</p>")
	if !strings.ContainsAny(plain, "<&") && plain == strings.TrimSpace(text) {
		return "", false
	}
	return html, true
}
