package narrative

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
)

// boldMarker delimits emphasized spans in generated text.
const boldMarker = "**"

var md = goldmark.New()

// FormatMarkers escapes text for HTML, turns line breaks into <br> and pairs
// successive "**" markers as <b> ... </b>. A marker without a partner is
// kept as literal text.
func FormatMarkers(text string) template.HTML {
	escaped := template.HTMLEscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")

	count := strings.Count(escaped, boldMarker)
	paired := count - count%2

	var out strings.Builder
	open := false
	seen := 0
	rest := escaped
	for {
		i := strings.Index(rest, boldMarker)
		if i < 0 || seen == paired {
			break
		}
		out.WriteString(rest[:i])
		if open {
			out.WriteString("</b>")
		} else {
			out.WriteString("<b>")
		}
		open = !open
		seen++
		rest = rest[i+len(boldMarker):]
	}
	out.WriteString(rest)

	return template.HTML(strings.ReplaceAll(out.String(), "\n", "<br>")) //nolint: gosec
}

// FormatMarkdown renders text as Markdown. Raw HTML in the input is not
// passed through.
func FormatMarkdown(text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering narrative markdown: %w", err)
	}
	return template.HTML(buf.String()), nil //nolint: gosec
}
