package fat32vol_test

import (
	"testing"

	"github.com/patchbay/fat32vol"
	"github.com/patchbay/fat32vol/fat32test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildNestedImage(t *testing.T) []byte {
	return fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.Dir("SUB",
			fat32test.File("LEAF.TXT", []byte("leaf contents")),
			fat32test.Dir("DEEPER", fat32test.File("X.BIN", []byte{1, 2, 3})),
		),
		fat32test.File("TOP.TXT", []byte("top contents")),
	})
}

func TestOpenPath_Root(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	entry, err := v.OpenPath("/")
	require.NoError(t, err)
	assert.True(t, entry.IsDir())
}

func TestOpenPath_NestedFile(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	entry, err := v.OpenPath("/SUB/LEAF.TXT")
	require.NoError(t, err)
	assert.False(t, entry.IsDir())
	assert.Equal(t, "LEAF.TXT", entry.Name())
}

func TestOpenPath_CaseInsensitiveLookup(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	entry, err := v.OpenPath("/sub/leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, "LEAF.TXT", entry.Name())
}

func TestOpenPath_DeeplyNested(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	entry, err := v.OpenPath("/SUB/DEEPER/X.BIN")
	require.NoError(t, err)
	assert.Equal(t, "X.BIN", entry.Name())
}

func TestOpenPath_TraversingThroughFileFails(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	_, err = v.OpenPath("/TOP.TXT/NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, fat32vol.ErrNotADirectory)
}

func TestOpenPath_MissingSegment(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	_, err = v.OpenPath("/SUB/MISSING.TXT")
	require.Error(t, err)
	assert.ErrorIs(t, err, fat32vol.ErrNotFound)
}

func TestOpenPath_RelativePathRejected(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	_, err = v.OpenPath("SUB/LEAF.TXT")
	require.Error(t, err)
	assert.ErrorIs(t, err, fat32vol.ErrInvalidPath)
}

func TestListDirPath_Subdirectory(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	entries, err := v.ListDirPath("/SUB")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestListDirPath_FileIsNotADirectory(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	_, err = v.ListDirPath("/TOP.TXT")
	require.Error(t, err)
	assert.ErrorIs(t, err, fat32vol.ErrNotADirectory)
}

func TestReadFileByPath_NestedContents(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	data, err := v.ReadFileByPath("/SUB/DEEPER/X.BIN")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestReadFileByPath_DirectoryIsNotAFile(t *testing.T) {
	v, err := fat32vol.Open(buildNestedImage(t))
	require.NoError(t, err)

	_, err = v.ReadFileByPath("/SUB")
	require.Error(t, err)
	assert.ErrorIs(t, err, fat32vol.ErrNotAFile)
}

func TestReadFile_EmptyFile(t *testing.T) {
	img := fat32test.Build(t, fat32test.Options{}, []fat32test.Node{
		fat32test.File("EMPTY.TXT", nil),
	})
	v, err := fat32vol.Open(img)
	require.NoError(t, err)

	entries, err := v.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := v.ReadFile(entries[0])
	require.NoError(t, err)
	assert.Empty(t, data)
}
