package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailMatchesKindAndCause(t *testing.T) {
	cause := errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY")
	err := Fail("texture: allocate memory", ErrResourceCreationFailed, cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceCreationFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNoCompatibleMemoryType)
	assert.Equal(t, "texture: allocate memory", Stage(err))
	assert.Contains(t, err.Error(), "texture: allocate memory")
	assert.Contains(t, err.Error(), "VK_ERROR_OUT_OF_DEVICE_MEMORY")
}

func TestFailWithoutCause(t *testing.T) {
	err := Fail("context: select adapter", ErrAdapterSelectionFailed, nil)
	assert.ErrorIs(t, err, ErrAdapterSelectionFailed)
	assert.Equal(t, "context: select adapter: no suitable adapter", err.Error())
}

func TestStageWithoutStageError(t *testing.T) {
	assert.Equal(t, "", Stage(errors.New("plain")))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLogLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("verbose"))

	SetLogLevel(LogLevelWarn)
	assert.Equal(t, LogLevelWarn, GetLogLevel())
	SetLogLevel(LogLevelDebug)
}
