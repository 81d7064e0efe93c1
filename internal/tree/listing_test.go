package tree_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"udpfs/internal/tree"
)

func TestListing(t *testing.T) {
	tr, err := tree.Build(fixture(t))
	require.NoError(t, err)

	listing, err := tr.Listing(tr.Root())
	require.NoError(t, err)
	require.Equal(t, "1:1000:a.txt\n2:0:sub/\n4:0:z.txt\n", listing)

	sub, _ := tr.Path(2)
	listing, err = tr.Listing(sub)
	require.NoError(t, err)
	require.Equal(t, "3:5:f\n", listing)
}

func TestListingSkipsVanished(t *testing.T) {
	root := fixture(t)

	tr, err := tree.Build(root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))

	listing, err := tr.Listing(tr.Root())
	require.NoError(t, err)
	require.Equal(t, "2:0:sub/\n4:0:z.txt\n", listing)
}

func TestListingNotADirectory(t *testing.T) {
	tr, err := tree.Build(fixture(t))
	require.NoError(t, err)

	p, _ := tr.Path(1)
	_, err = tr.Listing(p)
	require.Error(t, err)
}

func TestParseListing(t *testing.T) {
	entries := tree.ParseListing("1:1000:a.txt\n2:0:sub/\nbroken line\nx:1:bad\n3:5:with:colon\n\n")

	require.Equal(t, []tree.Entry{
		{ID: 1, Size: 1000, Name: "a.txt"},
		{ID: 2, Size: 0, Name: "sub/"},
		{ID: 3, Size: 5, Name: "with:colon"},
	}, entries)

	require.False(t, entries[0].IsDir())
	require.True(t, entries[1].IsDir())
}

func TestParseListingRoundTrip(t *testing.T) {
	tr, err := tree.Build(fixture(t))
	require.NoError(t, err)

	listing, err := tr.Listing(tr.Root())
	require.NoError(t, err)

	e, ok := tree.Find(tree.ParseListing(listing), "sub/")
	require.True(t, ok)
	require.EqualValues(t, 2, e.ID)

	_, ok = tree.Find(tree.ParseListing(listing), "sub")
	require.False(t, ok, "directory names only match with the trailing slash")
}
