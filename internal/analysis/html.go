package analysis

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	mdLinkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdBoldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

const (
	tableStyle = `border-collapse:collapse;width:100%;font-family:Arial,sans-serif;font-size:14px`
	thStyle    = `border:1px solid #ddd;padding:8px;background:#f4f4f4;text-align:left`
	tdStyle    = `border:1px solid #ddd;padding:8px`
)

// MarkdownToHTML renders the report markdown as inline-styled HTML for
// email clients, which ignore stylesheets. Only the constructs the
// report uses are handled: headers, tables, bold, and links.
func MarkdownToHTML(md string) string {
	var out []string
	inTable := false

	closeTable := func() {
		if inTable {
			out = append(out, "</table><br>")
			inTable = false
		}
	}

	for _, line := range strings.Split(md, "\n") {
		stripped := strings.TrimSpace(line)

		if separatorRe.MatchString(stripped) {
			continue
		}
		if strings.HasPrefix(stripped, "|") && strings.HasSuffix(stripped, "|") {
			cells := strings.Split(strings.Trim(stripped, "|"), "|")
			if !inTable {
				inTable = true
				out = append(out, fmt.Sprintf(`<table style="%s">`, tableStyle))
				var hs []string
				for _, c := range cells {
					hs = append(hs, fmt.Sprintf(`<th style="%s">%s</th>`, thStyle, html.EscapeString(strings.TrimSpace(c))))
				}
				out = append(out, "<tr>"+strings.Join(hs, "")+"</tr>")
			} else {
				var ds []string
				for _, c := range cells {
					ds = append(ds, fmt.Sprintf(`<td style="%s">%s</td>`, tdStyle, inlineHTML(strings.TrimSpace(c))))
				}
				out = append(out, "<tr>"+strings.Join(ds, "")+"</tr>")
			}
			continue
		}

		closeTable()
		switch {
		case strings.HasPrefix(stripped, "### "):
			out = append(out, fmt.Sprintf(`<h3 style="font-family:Arial,sans-serif;margin:16px 0 8px">%s</h3>`, inlineHTML(stripped[4:])))
		case strings.HasPrefix(stripped, "## "):
			out = append(out, fmt.Sprintf(`<h2 style="font-family:Arial,sans-serif;margin:20px 0 8px">%s</h2>`, inlineHTML(stripped[3:])))
		case stripped != "":
			out = append(out, fmt.Sprintf(`<p style="font-family:Arial,sans-serif;font-size:14px;margin:4px 0">%s</p>`, inlineHTML(stripped)))
		}
	}
	closeTable()
	return strings.Join(out, "\n")
}

// inlineHTML escapes a fragment and then re-applies the two inline
// constructs the report emits.
func inlineHTML(s string) string {
	escaped := html.EscapeString(s)
	escaped = mdLinkRe.ReplaceAllString(escaped, `<a href="$2">$1</a>`)
	return mdBoldRe.ReplaceAllString(escaped, "<b>$1</b>")
}
