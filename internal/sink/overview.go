package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Overview is the append-only journal mapping excerpt names to source URLs,
// one "<name>\t<url>" line per saved excerpt.
type Overview struct {
	mu   sync.Mutex
	f    *os.File
	next map[int]int
}

// OpenOverview opens (or creates) the journal at path for appending. Names
// already in the journal are scanned so NextSeq can continue past them.
func OpenOverview(path string) (*Overview, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create overview dir: %w", err)
	}
	next, err := scanOverview(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path comes from configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open overview: %w", err)
	}
	return &Overview{f: f, next: next}, nil
}

// NextSeq returns the first sequence number worker may use without
// colliding with an excerpt recorded by an earlier run.
func (o *Overview) NextSeq(worker int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.next[worker]
}

func scanOverview(path string) (map[int]int, error) {
	next := make(map[int]int)
	// #nosec G304 -- path comes from configuration.
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return next, nil
		}
		return nil, fmt.Errorf("open overview: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		name, _, _ := strings.Cut(scanner.Text(), "\t")
		w, s, ok := strings.Cut(name, "-")
		if !ok {
			continue
		}
		worker, err := strconv.Atoi(w)
		if err != nil {
			continue
		}
		seq, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		if seq+1 > next[worker] {
			next[worker] = seq + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan overview: %w", err)
	}
	return next, nil
}

// Append writes one journal line.
func (o *Overview) Append(name, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return fmt.Errorf("overview is closed")
	}
	if _, err := fmt.Fprintf(o.f, "%s\t%s\n", name, url); err != nil {
		return fmt.Errorf("append overview: %w", err)
	}
	return nil
}

// Close syncs and closes the journal. It is safe to call more than once.
func (o *Overview) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return nil
	}
	f := o.f
	o.f = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync overview: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close overview: %w", err)
	}
	return nil
}
