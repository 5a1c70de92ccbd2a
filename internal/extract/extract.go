// Package extract pulls article links and the introductory paragraph out of
// raw page markup. It scans with regular expressions over the raw bytes
// rather than building a document tree; a page with no match is a valid
// empty result.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	linkPattern      = regexp.MustCompile(`href="(/wiki/[^"]*)"`)
	paragraphPattern = regexp.MustCompile(`<p>(.*?)</p>`)
)

const disambiguationMarker = " refer to:"

// Paragraph is the first paragraph found in a page.
type Paragraph struct {
	// Markup is the full match including the <p> tags; this is what gets persisted.
	Markup string
	// Text is the content between the tags.
	Text string
}

// Links returns every internal article link in content, resolved against
// base, in document order. Duplicates are kept; the frontier dedupes.
func Links(base *url.URL, content string) []string {
	matches := linkPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		ref, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		links = append(links, ref.String())
	}
	return links
}

// FirstParagraph returns the first shortest <p>...</p> match on a single line.
func FirstParagraph(content string) (Paragraph, bool) {
	m := paragraphPattern.FindStringSubmatch(content)
	if m == nil {
		return Paragraph{}, false
	}
	return Paragraph{Markup: m[0], Text: m[1]}, true
}

// IsDisambiguation reports whether a paragraph is a "may refer to:" notice.
func IsDisambiguation(p Paragraph) bool {
	return strings.Contains(strings.ToLower(p.Markup), disambiguationMarker)
}
