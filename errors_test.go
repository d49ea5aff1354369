package fat32vol_test

import (
	"errors"
	"testing"

	"github.com/patchbay/fat32vol"
	"github.com/stretchr/testify/assert"
)

func TestDriverErrorWithMessage(t *testing.T) {
	newErr := fat32vol.ErrNotFound.WithMessage("/DOES/NOT/EXIST")
	assert.Equal(
		t, "path segment not found: /DOES/NOT/EXIST", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, fat32vol.ErrNotFound)
}

func TestDriverErrorWrap(t *testing.T) {
	originalErr := errors.New("short read")
	newErr := fat32vol.ErrCorruptChain.Wrap(originalErr)
	expectedMessage := "corrupt cluster chain: short read"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, fat32vol.ErrCorruptChain, "driver error not set as parent")
}

func TestDriverErrorKindDistinctFromMessage(t *testing.T) {
	err := fat32vol.ErrNoSpace.WithMessage("need 3 clusters, found 1")
	assert.Equal(t, fat32vol.NoSpace, err.Kind())
	assert.NotErrorIs(t, err, fat32vol.ErrDirFull)
}
