package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// ErrNoResults is returned by Best when no document matches the query.
var ErrNoResults = errors.New("no matching documents")

// Result is one ranked document.
type Result struct {
	File  string  `json:"file"`
	Score float64 `json:"score"`
}

// Index is a read-only handle on a built index directory.
type Index struct {
	dir   string
	keys  Keys
	terms map[string]struct{}
}

// Open loads the manifest of the index in dir.
func Open(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, keysFile)) // #nosec G304 -- configured index dir
	if err != nil {
		return nil, fmt.Errorf("read index keys: %w", err)
	}
	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode index keys: %w", err)
	}
	return &Index{dir: dir, keys: keys, terms: toSet(keys.Terms)}, nil
}

// Documents returns the number of indexed documents.
func (ix *Index) Documents() int {
	return ix.keys.Documents
}

// Search ranks documents by TF-IDF over the query terms, best first. A term's
// frequency in a document is the sum of its posting weights divided by the
// document length; its inverse document frequency is ln(1 + N/df).
func (ix *Index) Search(query string) ([]Result, error) {
	scores := make(map[string]float64)
	seen := make(map[string]struct{})
	for _, term := range splitTerms(query) {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		if _, ok := ix.terms[term]; !ok {
			continue
		}
		postings, err := ix.postings(term)
		if err != nil {
			return nil, err
		}

		tf := make(map[string]float64)
		for _, p := range postings {
			if p.Length <= 0 {
				continue
			}
			tf[p.File] += float64(p.Weight) / float64(p.Length)
		}
		if len(tf) == 0 {
			continue
		}
		idf := math.Log(1 + float64(ix.keys.Documents)/float64(len(tf)))
		for file, f := range tf {
			scores[file] += f * idf
		}
	}

	results := make([]Result, 0, len(scores))
	for file, score := range scores {
		results = append(results, Result{File: file, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].File < results[j].File
	})
	return results, nil
}

// Best returns the top-ranked document for query.
func (ix *Index) Best(query string) (Result, error) {
	results, err := ix.Search(query)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, ErrNoResults
	}
	return results[0], nil
}

func (ix *Index) postings(term string) ([]Posting, error) {
	data, err := os.ReadFile(filepath.Join(ix.dir, termsDir, term+termSuffix)) // #nosec G304 -- term is in the manifest
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read postings for %q: %w", term, err)
	}
	var postings []Posting
	if err := json.Unmarshal(data, &postings); err != nil {
		return nil, fmt.Errorf("decode postings for %q: %w", term, err)
	}
	return postings, nil
}
