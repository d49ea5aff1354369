package fat32vol_test

import (
	"testing"

	"github.com/patchbay/fat32vol"
	"github.com/patchbay/fat32vol/fat32test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainClusters_SingleClusterFile(t *testing.T) {
	img := fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.File("A.TXT", []byte("hello")),
	})

	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	entries, err := v.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := v.ReadFile(entries[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestChainClusters_MultiClusterFile(t *testing.T) {
	payload := make([]byte, 512*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}

	img := fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.File("BIG.BIN", payload),
	})

	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	entries, err := v.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := v.ReadFile(entries[0])
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestChainClusters_BadEntryIsCorrupt(t *testing.T) {
	img := fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.File("A.TXT", []byte("hello")),
	})

	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	entries, err := v.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Corrupt the file's FAT entry to the bad-cluster sentinel.
	fatOffset := v.Geometry().FATStart + int64(entries[0].FirstCluster())*4
	img[fatOffset] = 0xF7
	img[fatOffset+1] = 0xFF
	img[fatOffset+2] = 0xFF
	img[fatOffset+3] = 0x0F

	// A bad-cluster marker inside the chain is reported as a corrupt chain.
	_, err = v.ReadFile(entries[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, fat32vol.ErrCorruptChain)
}

func TestReadFileByPath_MissingFileIsNotFound(t *testing.T) {
	img := fat32test.Build(t, fat32test.Options{}, nil)
	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	_, err = v.ReadFileByPath("/MISSING.TXT")
	require.Error(t, err)
	assert.ErrorIs(t, err, fat32vol.ErrNotFound)
}
