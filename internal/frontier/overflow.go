package frontier

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// overflowFile is the disk-resident tail of the pending queue: one URL per
// line, created on first spill and removed once fully drained. Spills append
// to the end and refills consume from offset, so neither touches more than
// one drain quantum of the file. It is not safe for concurrent use; the
// Frontier serializes every call under its mutex.
type overflowFile struct {
	path   string
	count  int
	offset int64
}

// recover streams the URLs left behind by a previous run through keep and
// compacts the file down to the lines keep accepted. Blank lines are dropped.
func (o *overflowFile) recover(keep func(string) bool) error {
	// #nosec G304 -- path comes from configuration.
	src, err := os.Open(o.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open overflow file: %w", err)
	}
	defer src.Close() //nolint:errcheck // read-only handle

	tmp := o.path + ".tmp"
	// #nosec G304 -- path comes from configuration.
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open compacted overflow: %w", err)
	}
	w := bufio.NewWriter(dst)
	kept := 0
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !keep(line) {
			continue
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = dst.Close()
			return fmt.Errorf("write compacted overflow: %w", err)
		}
		kept++
	}
	if err := scanner.Err(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("read overflow file: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("flush compacted overflow: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close compacted overflow: %w", err)
	}

	o.offset = 0
	if kept == 0 {
		o.count = 0
		if err := os.Remove(tmp); err != nil {
			return fmt.Errorf("remove compacted overflow: %w", err)
		}
		return o.remove()
	}
	if err := os.Rename(tmp, o.path); err != nil {
		return fmt.Errorf("replace overflow file: %w", err)
	}
	o.count = kept
	return nil
}

// appendLines writes urls to the end of the file.
func (o *overflowFile) appendLines(urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(o.path), 0o750); err != nil {
		return fmt.Errorf("create overflow dir: %w", err)
	}
	// #nosec G304 -- path comes from configuration.
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open overflow file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, u := range urls {
		if _, err := w.WriteString(u + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write overflow file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush overflow file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close overflow file: %w", err)
	}
	o.count += len(urls)
	return nil
}

// take reads up to n URLs starting at offset and advances past them. The
// file is deleted once every line has been consumed; if that delete fails
// the URLs read are still returned alongside the error.
func (o *overflowFile) take(n int) ([]string, error) {
	if n <= 0 {
		n = o.count
	}
	// #nosec G304 -- path comes from configuration.
	f, err := os.Open(o.path)
	if err != nil {
		return nil, fmt.Errorf("open overflow file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	if _, err := f.Seek(o.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek overflow file: %w", err)
	}
	r := bufio.NewReader(f)
	head := make([]string, 0, n)
	consumed := o.offset
	atEOF := false
	for len(head) < n {
		line, err := r.ReadString('\n')
		consumed += int64(len(line))
		if u := strings.TrimSpace(line); u != "" {
			head = append(head, u)
		}
		if errors.Is(err, io.EOF) {
			atEOF = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read overflow file: %w", err)
		}
	}
	if !atEOF {
		if _, err := r.Peek(1); errors.Is(err, io.EOF) {
			atEOF = true
		}
	}

	o.offset = consumed
	o.count -= len(head)
	if o.count < 0 || atEOF {
		o.count = 0
	}
	if o.count == 0 {
		if err := o.remove(); err != nil {
			return head, err
		}
	}
	return head, nil
}

// abandon forgets the file contents and moves the file aside to
// path+".abandoned", so later spills start a fresh file.
func (o *overflowFile) abandon() (string, error) {
	o.count = 0
	o.offset = 0
	aside := o.path + ".abandoned"
	if err := os.Rename(o.path, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("move overflow file aside: %w", err)
	}
	return aside, nil
}

// remove deletes the drained file. The offset is kept on failure so later
// appends are not mistaken for consumed lines.
func (o *overflowFile) remove() error {
	if err := os.Remove(o.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove overflow file: %w", err)
	}
	o.offset = 0
	return nil
}
