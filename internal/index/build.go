// Package index builds and queries an inverted index over saved excerpts.
//
// An index lives in a content-addressed directory named after a digest of
// the excerpt file names and contents, so rebuilding an unchanged corpus is a
// no-op and a changed corpus never overwrites an index in use.
package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	termsDir    = "terms"
	keysFile    = "keys.json"
	currentFile = "CURRENT"
	termSuffix  = ".json"
	// maxFileName is the common filesystem limit on a single path element.
	maxFileName = 255
	digestWidth = 16
)

// Keys is the index manifest.
type Keys struct {
	Terms     []string `json:"terms"`
	Documents int      `json:"documents"`
}

type parsedFile struct {
	name  string
	sum   [sha256.Size]byte
	terms map[string][]Posting
}

// Build indexes every *.html file in dataDir into <outRoot>/<digest> and
// points <outRoot>/CURRENT at it. It returns the index directory.
func Build(ctx context.Context, dataDir, outRoot string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names, err := excerptFiles(dataDir)
	if err != nil {
		return "", err
	}

	parsed := make([]parsedFile, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// #nosec G304 -- names come from listing dataDir.
			content, err := os.ReadFile(filepath.Join(dataDir, name))
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			terms, err := parseDocument(name, bytes.NewReader(content))
			if err != nil {
				return err
			}
			parsed[i] = parsedFile{name: name, sum: sha256.Sum256(content), terms: terms}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("parse excerpts: %w", err)
	}

	dir := filepath.Join(outRoot, corpusDigest(parsed))
	if _, err := os.Stat(filepath.Join(dir, keysFile)); err == nil {
		logger.Info("index up to date", zap.String("dir", dir))
		return dir, markCurrent(outRoot, dir)
	}

	merged := make(map[string][]Posting)
	for _, p := range parsed {
		for term, postings := range p.terms {
			merged[term] = append(merged[term], postings...)
		}
	}

	if err := os.MkdirAll(outRoot, 0o750); err != nil {
		return "", fmt.Errorf("create index root: %w", err)
	}
	tmp, err := os.MkdirTemp(outRoot, ".build-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp) //nolint:errcheck // staging dir is gone after rename

	keys, err := writeTerms(filepath.Join(tmp, termsDir), merged, logger)
	if err != nil {
		return "", err
	}
	keys.Documents = len(parsed)
	if err := writeJSON(filepath.Join(tmp, keysFile), keys); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dir); err != nil {
		return "", fmt.Errorf("publish index: %w", err)
	}
	logger.Info("index built",
		zap.String("dir", dir),
		zap.Int("documents", keys.Documents),
		zap.Int("terms", len(keys.Terms)),
	)
	return dir, markCurrent(outRoot, dir)
}

func excerptFiles(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("list excerpts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".html") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func corpusDigest(files []parsedFile) string {
	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.name))
		h.Write([]byte{0})
		h.Write(f.sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:digestWidth]
}

func writeTerms(dir string, merged map[string][]Posting, logger *zap.Logger) (Keys, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Keys{}, fmt.Errorf("create terms dir: %w", err)
	}
	keys := Keys{Terms: make([]string, 0, len(merged))}
	skipped := 0
	for term, postings := range merged {
		if !validTermFile(term) {
			skipped++
			continue
		}
		if err := writeJSON(filepath.Join(dir, term+termSuffix), postings); err != nil {
			return Keys{}, err
		}
		keys.Terms = append(keys.Terms, term)
	}
	sort.Strings(keys.Terms)
	if skipped > 0 {
		logger.Debug("skipped terms unusable as file names", zap.Int("terms", skipped))
	}
	return keys, nil
}

func validTermFile(term string) bool {
	if term == "" || len(term)+len(termSuffix) > maxFileName {
		return false
	}
	return !strings.ContainsAny(term, `/\`+"\x00")
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func markCurrent(outRoot, dir string) error {
	if err := os.WriteFile(filepath.Join(outRoot, currentFile), []byte(filepath.Base(dir)+"\n"), 0o600); err != nil {
		return fmt.Errorf("mark current index: %w", err)
	}
	return nil
}

// Current returns the index directory most recently built under outRoot.
func Current(outRoot string) (string, error) {
	data, err := os.ReadFile(filepath.Join(outRoot, currentFile)) // #nosec G304 -- configured root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("no index under %s: run the index command first", outRoot)
		}
		return "", fmt.Errorf("read current index: %w", err)
	}
	return filepath.Join(outRoot, strings.TrimSpace(string(data))), nil
}
