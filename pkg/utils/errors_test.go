package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "Bin not found", "id=abc")
	assert.Equal(t, "NOT_FOUND: Bin not found (id=abc)", err.Error())
	assert.NotEmpty(t, err.File)
	assert.NotZero(t, err.Line)

	bare := NewAppError(ErrCodeStorage, "Write failed")
	assert.Equal(t, "STORAGE_ERROR: Write failed", bare.Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, ErrorCode(NewAppError(ErrCodeNotFound, "gone")))
	assert.Equal(t, ErrCodeInternal, ErrorCode(errors.New("plain")))

	// Codes survive wrapping
	wrapped := fmt.Errorf("while deleting: %w", NewAppError(ErrCodeAlreadyExists, "dup"))
	assert.Equal(t, ErrCodeAlreadyExists, ErrorCode(wrapped))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewAppError(ErrCodeNotFound, "gone")))
	assert.False(t, IsNotFound(NewAppError(ErrCodeStorage, "broken")))

	assert.True(t, IsAlreadyExists(NewAppError(ErrCodeAlreadyExists, "dup")))
	assert.False(t, IsAlreadyExists(errors.New("plain")))
}
