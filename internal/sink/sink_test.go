package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	pubmemory "github.com/JakeFAU/wikicrawl/internal/publisher/memory"
	"github.com/JakeFAU/wikicrawl/internal/storage/memory"
)

type fakeCatalog struct {
	mu      sync.Mutex
	records []crawler.ExcerptRecord
	err     error
}

func (f *fakeCatalog) StoreExcerpt(_ context.Context, r crawler.ExcerptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "record-1", nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func openOverview(t *testing.T) (*Overview, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0_overview.log")
	ov, err := OpenOverview(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ov.Close() })
	return ov, path
}

func TestSaveWritesBlobOverviewCatalogAndEvent(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ov, path := openOverview(t)
	catalog := &fakeCatalog{}
	pub := pubmemory.New()
	now := time.Unix(1700000000, 0).UTC()

	s, err := New(blobs, ov, Config{RunID: "run-1"}, zap.NewNop(),
		WithCatalog(catalog, fixedIDs{}, fixedClock{now: now}),
		WithPublisher(pub),
	)
	require.NoError(t, err)

	e := crawler.Excerpt{Worker: 1, Seq: 0, URL: "https://en.wikipedia.org/wiki/Water", Markup: "<p>Water.</p>"}
	require.NoError(t, s.Save(context.Background(), e))

	body, ok := blobs.Get("1-0.html")
	require.True(t, ok)
	assert.Equal(t, "<p>Water.</p>", string(body))

	require.NoError(t, ov.Close())
	journal, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1-0\thttps://en.wikipedia.org/wiki/Water\n", string(journal))

	require.Len(t, catalog.records, 1)
	rec := catalog.records[0]
	assert.Equal(t, "record-1", rec.ID)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "1-0", rec.Name)
	assert.Equal(t, "memory://1-0.html", rec.BlobURI)
	assert.Equal(t, len(e.Markup), rec.Bytes)
	assert.Equal(t, now, rec.SavedAt)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventExcerptSaved, msgs[0].Event)
	assert.Equal(t, SavedEvent{RunID: "run-1", Name: "1-0", URL: e.URL, BlobURI: "memory://1-0.html"}, msgs[0].Payload)
}

func TestSaveCatalogFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ov, _ := openOverview(t)
	catalog := &fakeCatalog{err: errors.New("db down")}
	s, err := New(blobs, ov, Config{}, nil, WithCatalog(catalog, fixedIDs{}, fixedClock{}))
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), crawler.Excerpt{Worker: 2, Seq: 5, Markup: "<p>x</p>"}))
	_, ok := blobs.Get("2-5.html")
	assert.True(t, ok)
}

func TestSaveBlobFailureSkipsOverview(t *testing.T) {
	t.Parallel()

	ov, path := openOverview(t)
	s, err := New(failingBlobs{}, ov, Config{}, nil)
	require.NoError(t, err)

	err = s.Save(context.Background(), crawler.Excerpt{Worker: 1, Seq: 1, URL: "u", Markup: "<p>x</p>"})
	require.ErrorContains(t, err, "put excerpt 1-1")

	require.NoError(t, ov.Close())
	journal, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, journal)
}

func TestBlobPathPrefix(t *testing.T) {
	t.Parallel()

	ov, _ := openOverview(t)
	s, err := New(memory.NewBlobStore(), ov, Config{Prefix: "/excerpts/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "excerpts/3-9.html", s.BlobPath(crawler.Excerpt{Worker: 3, Seq: 9}))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	ov, _ := openOverview(t)
	_, err := New(nil, ov, Config{}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), ov, Config{}, nil, WithCatalog(&fakeCatalog{}, nil, nil))
	require.Error(t, err)
}

func TestOverviewConcurrentAppends(t *testing.T) {
	t.Parallel()

	ov, path := openOverview(t)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				_ = ov.Append(crawler.Excerpt{Worker: w, Seq: i}.Name(), "https://en.wikipedia.org/wiki/X")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, ov.Close())
	require.Error(t, ov.Append("late", "u"))
	require.NoError(t, ov.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 100, lines)
}

func TestOverviewNextSeqContinuesEarlierRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "0_overview.log")
	earlier := "0-0\thttps://en.wikipedia.org/wiki/A\n" +
		"0-3\thttps://en.wikipedia.org/wiki/B\n" +
		"2-1\thttps://en.wikipedia.org/wiki/C\n" +
		"garbage line\n"
	require.NoError(t, os.WriteFile(path, []byte(earlier), 0o600))

	ov, err := OpenOverview(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ov.Close() })

	assert.Equal(t, 4, ov.NextSeq(0))
	assert.Zero(t, ov.NextSeq(1))
	assert.Equal(t, 2, ov.NextSeq(2))

	fresh, _ := openOverview(t)
	assert.Zero(t, fresh.NextSeq(0))
}
