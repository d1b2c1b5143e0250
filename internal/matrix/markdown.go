// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
)

// RenderMarkdown converts a markdown body into the HTML formatted body used
// alongside the plain-text fallback. Returns "" when the rendered HTML is a
// single plain paragraph, meaning no formatting would be gained.
func RenderMarkdown(body string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return "", err
	}

	html := strings.TrimSpace(buf.String())

	// A bare paragraph of the original text carries no extra formatting.
	plain := "<p>" + escapeMatches(body) + "</p>"
	if html == plain {
		return "", nil
	}
	return html, nil
}

// escapeMatches mirrors goldmark's minimal escaping for plain paragraph text.
func escapeMatches(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(strings.TrimSpace(s))
}
