package mailparse

import (
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

var htmlEntities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&euro;", "€",
	"&pound;", "£",
)

// StripMarkup reduces an HTML body to plain text suitable for the
// classifier's validation chain. It is deliberately crude: the goal is
// keyword/pattern matching, not faithful rendering.
func StripMarkup(html string) string {
	s := scriptRe.ReplaceAllString(html, " ")
	// keep line structure so date/amount patterns stay on one line
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "<br />", "\n")
	s = strings.ReplaceAll(s, "</p>", "\n")
	s = strings.ReplaceAll(s, "</div>", "\n")
	s = strings.ReplaceAll(s, "</tr>", "\n")
	s = tagRe.ReplaceAllString(s, " ")
	s = htmlEntities.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
