package index

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// cleanPattern matches citation markers, possessives and punctuation that are
// removed from text before it is split into terms.
var cleanPattern = regexp.MustCompile(`\[[0-9]*?\]|'s|/|\.|\(|\)|,|"|'|−|;|\[|\]|\*|:|~|\?|!`)

// emphasis lists the tags whose content counts extra. Nesting stacks.
var emphasis = map[string]int{
	"b": 1,
	"a": 1,
}

// Posting is one occurrence of a term in a document.
type Posting struct {
	File   string `json:"filename"`
	Weight int    `json:"weight"`
	Length int    `json:"filelength"`
}

// parseDocument tokenizes an excerpt fragment and returns one posting per
// term occurrence. Length is the number of indexed words in the document.
func parseDocument(file string, r io.Reader) (map[string][]Posting, error) {
	z := html.NewTokenizer(r)
	terms := make(map[string][]Posting)
	weight := 1
	words := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("tokenize %s: %w", file, err)
			}
			for term, postings := range terms {
				for i := range postings {
					postings[i].Length = words
				}
				terms[term] = postings
			}
			return terms, nil
		case html.StartTagToken:
			name, _ := z.TagName()
			weight += emphasis[string(name)]
		case html.EndTagToken:
			name, _ := z.TagName()
			weight -= emphasis[string(name)]
			if weight < 1 {
				weight = 1
			}
		case html.TextToken:
			for _, word := range splitTerms(string(z.Text())) {
				words++
				terms[word] = append(terms[word], Posting{File: file, Weight: weight})
			}
		}
	}
}

// splitTerms cleans text and returns its lowercased non-stopword terms.
func splitTerms(text string) []string {
	fields := strings.Fields(cleanPattern.ReplaceAllString(text, ""))
	out := fields[:0]
	for _, f := range fields {
		f = strings.ToLower(f)
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
