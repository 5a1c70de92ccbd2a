// Package namespace implements the politeness filter that keeps the crawl on
// encyclopedia articles and away from special namespaces.
package namespace

import (
	"fmt"
	"regexp"
)

// DefaultPatterns lists the non-article namespaces and list-style pages the
// crawler skips by default.
var DefaultPatterns = []string{
	"/File:",
	"/Book:",
	"/Portal:",
	"/Help:",
	"/Talk:",
	"/Wikipedia:",
	"/Wikipedia_talk:",
	"/Special:",
	"/Template:",
	"/Template_talk:",
	"/User:",
	"/User_talk:",
	"/Category:",
	"/Lists_of_",
	"/List_of_",
	"/Timeline_of_",
	"/History_of_",
	"/films_of_",
}

// Policy rejects URLs matching any configured pattern.
type Policy struct {
	filters []*regexp.Regexp
}

// New compiles the patterns into a Policy.
func New(patterns []string) (*Policy, error) {
	filters := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile filter %q: %w", p, err)
		}
		filters = append(filters, re)
	}
	return &Policy{filters: filters}, nil
}

// AllowFetch reports whether url passes every filter.
func (p *Policy) AllowFetch(url string) bool {
	for _, re := range p.filters {
		if re.MatchString(url) {
			return false
		}
	}
	return true
}
