package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://en.wikipedia.org")
	require.NoError(t, err)

	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{"absolute", "https://en.wikipedia.org/wiki/Water", "https://en.wikipedia.org/wiki/Water"},
		{"fragment stripped", "https://en.wikipedia.org/wiki/Water#History", "https://en.wikipedia.org/wiki/Water"},
		{"rooted relative", "/wiki/Water", "https://en.wikipedia.org/wiki/Water"},
		{"bare relative", "wiki/Water", "https://en.wikipedia.org/wiki/Water"},
		{"host case and port", "HTTPS://EN.Wikipedia.org:443/wiki/Water", "https://en.wikipedia.org/wiki/Water"},
		{"query sorted", "https://en.wikipedia.org/w/index.php?title=X&action=raw", "https://en.wikipedia.org/w/index.php?action=raw&title=X"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(base, tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLErrors(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL(nil, "#only-fragment")
	require.Error(t, err)

	_, err = NormalizeURL(nil, "/wiki/Relative")
	require.Error(t, err)

	_, err = NormalizeURL(nil, "http://%zz")
	require.Error(t, err)
}

func TestExcerptName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2-17", Excerpt{Worker: 2, Seq: 17}.Name())
}
