package frontier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/wikicrawl/internal/hash/sha256"
	"github.com/JakeFAU/wikicrawl/internal/policy/namespace"
)

const testBase = "https://en.wikipedia.org"

func newTestFrontier(t *testing.T, cfg Config) *Frontier {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBase
	}
	if cfg.TakeTimeout == 0 {
		cfg.TakeTimeout = 50 * time.Millisecond
	}
	hasher, err := sha256.NewTruncated(16)
	require.NoError(t, err)
	policy, err := namespace.New(namespace.DefaultPatterns)
	require.NoError(t, err)
	f, err := New(cfg, policy, hasher, zap.NewNop(), nil)
	require.NoError(t, err)
	return f
}

func articleURL(i int) string {
	return fmt.Sprintf("%s/wiki/Article_%d", testBase, i)
}

func TestAddURLDedupesFragments(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t, Config{})

	require.True(t, f.AddURL("/wiki/Water"))
	require.False(t, f.AddURL("https://en.wikipedia.org/wiki/Water#History"))
	require.False(t, f.AddURL("https://EN.wikipedia.org:443/wiki/Water"))
	require.False(t, f.AddURL("/wiki/Water"))

	stats := f.Stats()
	assert.Equal(t, 1, stats.Known)
	assert.Equal(t, 1, stats.Pending)
}

func TestAddURLFilteredDoesNotGrowSeenSet(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t, Config{})

	require.False(t, f.AddURL("/wiki/Talk:Water"))
	require.False(t, f.AddURL("/wiki/List_of_rivers"))
	require.False(t, f.AddURL("#top"))

	stats := f.Stats()
	assert.Zero(t, stats.Known)
	assert.Zero(t, stats.Pending)
}

func TestTakeURLFIFOWithoutOverflow(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t, Config{})

	for i := range 5 {
		require.True(t, f.AddURL(articleURL(i)))
	}
	for i := range 5 {
		u, ok := f.TakeURL(context.Background())
		require.True(t, ok)
		assert.Equal(t, articleURL(i), u)
	}
	assert.EqualValues(t, 5, f.Stats().Taken)
}

func TestTakeURLTimesOutWhenEmpty(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t, Config{TakeTimeout: 30 * time.Millisecond})

	start := time.Now()
	u, ok := f.TakeURL(context.Background())
	assert.False(t, ok)
	assert.Empty(t, u)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTakeURLHonorsContext(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t, Config{TakeTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, ok := f.TakeURL(ctx)
	assert.False(t, ok)
}

func TestTakeURLWakesWaiters(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t, Config{TakeTimeout: 2 * time.Second})

	const waiters = 4
	results := make(chan string, waiters)
	var wg sync.WaitGroup
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if u, ok := f.TakeURL(context.Background()); ok {
				results <- u
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	for i := range waiters {
		require.True(t, f.AddURL(articleURL(i)))
	}
	wg.Wait()
	close(results)

	got := make(map[string]bool)
	for u := range results {
		got[u] = true
	}
	assert.Len(t, got, waiters)
}

func TestOverflowRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overflow.txt")
	f := newTestFrontier(t, Config{HighWater: 4, LowWater: 2, OverflowPath: path})

	const total = 25
	for i := range total {
		require.True(t, f.AddURL(articleURL(i)))
	}

	stats := f.Stats()
	assert.Equal(t, total, stats.Known)
	assert.Equal(t, total, stats.Pending+stats.Overflow)
	assert.LessOrEqual(t, stats.Pending, 4)
	assert.Positive(t, stats.Overflow)
	_, err := os.Stat(path)
	require.NoError(t, err)

	seen := make(map[string]int)
	for range total {
		u, ok := f.TakeURL(context.Background())
		require.True(t, ok)
		seen[u]++
		f.Release()
	}
	require.Len(t, seen, total)
	for u, n := range seen {
		assert.Equal(t, 1, n, "url %s handed out more than once", u)
	}

	_, ok := f.TakeURL(context.Background())
	assert.False(t, ok)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "overflow file should be removed once drained")
	assert.True(t, f.Idle())
}

func TestOverflowDedupesSpilledURLs(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overflow.txt")
	f := newTestFrontier(t, Config{HighWater: 4, LowWater: 2, OverflowPath: path})

	for i := range 10 {
		require.True(t, f.AddURL(articleURL(i)))
	}
	require.Positive(t, f.Stats().Overflow)
	for i := range 10 {
		assert.False(t, f.AddURL(articleURL(i)))
	}
	assert.Equal(t, 10, f.Stats().Known)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestOverflowTakePreservesRemainder(t *testing.T) {
	t.Parallel()
	o := &overflowFile{path: filepath.Join(t.TempDir(), "nested", "overflow.txt")}

	require.NoError(t, o.appendLines([]string{"a", "b", "c", "d", "e"}))
	assert.Equal(t, 5, o.count)

	head, err := o.take(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, head)
	assert.Equal(t, 3, o.count)

	require.NoError(t, o.appendLines([]string{"f"}))
	head, err = o.take(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e", "f"}, head)
	assert.Zero(t, o.count)
	assert.Zero(t, o.offset)
	assert.False(t, fileExists(o.path))
}

func TestOverflowTakeReadsOnlyOneQuantum(t *testing.T) {
	t.Parallel()
	o := &overflowFile{path: filepath.Join(t.TempDir(), "overflow.txt")}

	const total = 5000
	urls := make([]string, total)
	for i := range urls {
		urls[i] = articleURL(i)
	}
	require.NoError(t, o.appendLines(urls))
	before, err := os.Stat(o.path)
	require.NoError(t, err)

	head, err := o.take(5)
	require.NoError(t, err)
	assert.Equal(t, urls[:5], head)
	assert.Equal(t, total-5, o.count)

	var want int64
	for _, u := range urls[:5] {
		want += int64(len(u) + 1)
	}
	assert.Equal(t, want, o.offset)

	after, err := os.Stat(o.path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size(), "take must not rewrite the file")

	head, err = o.take(3)
	require.NoError(t, err)
	assert.Equal(t, urls[5:8], head)
}

func TestOverflowRecoverCompactsAndCounts(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overflow.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n\nb\nskip\nc"), 0o600))

	o := &overflowFile{path: path}
	require.NoError(t, o.recover(func(u string) bool { return u != "skip" }))
	assert.Equal(t, 3, o.count)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(data))
	assert.False(t, fileExists(path+".tmp"))

	none := &overflowFile{path: path}
	require.NoError(t, none.recover(func(string) bool { return false }))
	assert.Zero(t, none.count)
	assert.False(t, fileExists(path))
}

func TestNewRecoversOverflow(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overflow.txt")
	leftover := articleURL(1) + "\n\n" + articleURL(2) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(leftover), 0o600))

	f := newTestFrontier(t, Config{HighWater: 4, LowWater: 2, OverflowPath: path})
	stats := f.Stats()
	assert.Equal(t, 2, stats.Overflow)
	assert.Equal(t, 2, stats.Known)
	assert.False(t, f.Idle())
	assert.False(t, f.AddURL(articleURL(1)))

	u, ok := f.TakeURL(context.Background())
	require.True(t, ok)
	assert.Equal(t, articleURL(1), u)
	u, ok = f.TakeURL(context.Background())
	require.True(t, ok)
	assert.Equal(t, articleURL(2), u)
}

type pickyHasher struct {
	inner *sha256.Hasher
	bad   string
}

func (h pickyHasher) Hash(data []byte) (string, error) {
	if string(data) == h.bad {
		return "", errors.New("unhashable")
	}
	return h.inner.Hash(data)
}

func TestNewRecoveryDropsDuplicatesAndUnhashable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overflow.txt")
	leftover := articleURL(1) + "\n" + articleURL(2) + "\n" + articleURL(1) + "\n" + articleURL(3) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(leftover), 0o600))

	core, logs := observer.New(zap.WarnLevel)
	hasher := pickyHasher{inner: sha256.New(), bad: articleURL(2)}
	f, err := New(Config{BaseURL: testBase, HighWater: 4, LowWater: 2, OverflowPath: path, TakeTimeout: 10 * time.Millisecond},
		nil, hasher, zap.New(core), nil)
	require.NoError(t, err)

	stats := f.Stats()
	assert.Equal(t, 2, stats.Overflow)
	assert.Equal(t, 2, stats.Known)
	assert.Equal(t, 1, logs.FilterMessageSnippet("hash recovered url failed").Len())

	var got []string
	for {
		u, ok := f.TakeURL(context.Background())
		if !ok {
			break
		}
		got = append(got, u)
		f.Release()
	}
	assert.Equal(t, []string{articleURL(1), articleURL(3)}, got)
}

func TestRefillErrorAbandonsOverflow(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "overflow.txt")
	f := newTestFrontier(t, Config{HighWater: 2, LowWater: 1, OverflowPath: path})

	for i := range 3 {
		require.True(t, f.AddURL(articleURL(i)))
	}
	require.Equal(t, 1, f.Stats().Overflow)

	// Replace the file with a directory so the next read fails.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o750))

	for range 2 {
		_, ok := f.TakeURL(context.Background())
		require.True(t, ok)
		f.Release()
	}
	_, ok := f.TakeURL(context.Background())
	assert.False(t, ok)
	assert.Zero(t, f.Stats().Overflow)
	assert.True(t, f.Idle())
	assert.True(t, fileExists(path+".abandoned"))

	// Later spills start a fresh file.
	for i := 10; i < 13; i++ {
		require.True(t, f.AddURL(articleURL(i)))
	}
	assert.Equal(t, 1, f.Stats().Overflow)
	assert.True(t, fileExists(path))
}

func TestIdleTracksInFlight(t *testing.T) {
	t.Parallel()
	f := newTestFrontier(t, Config{})

	assert.True(t, f.Idle())
	require.True(t, f.AddURL("/wiki/Water"))
	assert.False(t, f.Idle())

	_, ok := f.TakeURL(context.Background())
	require.True(t, ok)
	assert.False(t, f.Idle())
	assert.Equal(t, 1, f.Stats().InFlight)

	f.Release()
	assert.True(t, f.Idle())
	f.Release()
	assert.Zero(t, f.Stats().InFlight)
}

func TestConcurrentAddURL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overflow.txt")
	f := newTestFrontier(t, Config{HighWater: 16, LowWater: 8, OverflowPath: path})

	const urls = 200
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range urls {
				f.AddURL(articleURL(i))
			}
		}()
	}
	wg.Wait()

	stats := f.Stats()
	assert.Equal(t, urls, stats.Known)
	assert.Equal(t, urls, stats.Pending+stats.Overflow)
}

func TestBacklogLogsVisitedAndKnown(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	hasher := sha256.New()
	f, err := New(Config{BaseURL: testBase, TakeTimeout: 10 * time.Millisecond}, nil, hasher, nil, zap.New(core))
	require.NoError(t, err)

	require.True(t, f.AddURL("/wiki/Water"))
	require.True(t, f.AddURL("/wiki/Ice"))
	_, ok := f.TakeURL(context.Background())
	require.True(t, ok)

	entries := logs.FilterMessage("backlog").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 1, fields["visited"])
	assert.EqualValues(t, 2, fields["known"])
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	hasher := sha256.New()

	testCases := []struct {
		name string
		cfg  Config
	}{
		{"negative marks", Config{HighWater: -1}},
		{"low not below high", Config{HighWater: 4, LowWater: 4, OverflowPath: "x"}},
		{"missing overflow path", Config{HighWater: 4, LowWater: 2}},
		{"bad base url", Config{BaseURL: "http://%zz"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg, nil, hasher, nil, nil)
			require.Error(t, err)
		})
	}

	_, err := New(Config{}, nil, nil, nil, nil)
	require.Error(t, err)
}
