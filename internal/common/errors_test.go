package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDefinitions(t *testing.T) {
	t.Parallel()

	errs := []error{
		ErrNotFound,
		ErrExists,
		ErrNotDir,
		ErrIsDir,
		ErrNotEmpty,
		ErrInvalidArgument,
		ErrOutOfResources,
		ErrContentTooLarge,
		ErrBackupUnavailable,
		ErrClosed,
		ErrNameTooLong,
	}

	seen := make(map[string]bool)
	for _, err := range errs {
		require.NotNil(t, err)
		assert.False(t, seen[err.Error()], "duplicate error message: %s", err)
		seen[err.Error()] = true
	}
}

func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("write docs/a.txt: %w", ErrContentTooLarge)
	assert.True(t, errors.Is(wrapped, ErrContentTooLarge))
	assert.False(t, errors.Is(wrapped, ErrOutOfResources))

	assert.True(t, errors.Is(ErrNameTooLong, ErrInvalidArgument))
	assert.False(t, errors.Is(ErrInvalidArgument, ErrNameTooLong))
}
