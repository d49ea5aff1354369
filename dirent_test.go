package fat32vol_test

import (
	"testing"

	"github.com/patchbay/fat32vol"
	"github.com/patchbay/fat32vol/fat32test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRoot_SkipsDeletedAndStopsAtFree(t *testing.T) {
	img := fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.Deleted("GONE.TXT"),
		fat32test.File("KEEP.TXT", []byte("x")),
	})

	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	entries, err := v.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "KEEP.TXT", entries[0].Name())
}

func TestListRoot_DirectoryAndFileEntries(t *testing.T) {
	img := fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.Dir("SUB", fat32test.File("INNER.TXT", []byte("y"))),
		fat32test.File("A.TXT", []byte("z")),
	})

	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	entries, err := v.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "SUB", entries[0].Name())
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "A.TXT", entries[1].Name())
	assert.False(t, entries[1].IsDir())
	assert.Equal(t, int64(1), entries[1].Size())
}

func TestNameEscaping_LeadingE5(t *testing.T) {
	// A file literally named 0xE5-prefixed is encoded on disk with the 0x05
	// escape so it isn't mistaken for a deleted-record marker.
	img := fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.File(string([]byte{0xE5}) + "BC.TXT", []byte("data")),
	})

	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	entries, err := v.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string([]byte{0xE5})+"BC.TXT", entries[0].Name())
}
