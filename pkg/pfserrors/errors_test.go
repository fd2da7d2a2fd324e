package pfserrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	err := New(CodeNotFound, "no such file")
	require.NotNil(t, err)
	assert.Equal(t, CodeNotFound, err.Code)
	assert.Equal(t, CategoryLookup, err.Category)
	assert.Equal(t, "no such file", err.Message)
	assert.False(t, err.Timestamp.IsZero())
}

func TestRetryableByDefault(t *testing.T) {
	t.Parallel()

	assert.True(t, New(CodeBusy, "locked").Retryable)
	assert.True(t, New(CodeIO, "disk error").Retryable)
	assert.False(t, New(CodeNotFound, "missing").Retryable)
}

func TestErrorStringIncludesComponentAndPath(t *testing.T) {
	t.Parallel()

	err := New(CodeBadFilename, "contains '..'").
		WithComponent("mount").
		WithOperation("sanitize").
		WithPath("a/../b")

	msg := err.Error()
	assert.Contains(t, msg, "mount:sanitize")
	assert.Contains(t, msg, "a/../b")
	assert.Contains(t, msg, string(CodeBadFilename))
}

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	a := New(CodeNotFound, "first")
	b := New(CodeNotFound, "second")
	c := New(CodeCorrupt, "third")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestUnwrapExposesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying syscall failure")
	err := New(CodeIO, "read failed").WithCause(cause)

	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsCodeWalksWrappedChain(t *testing.T) {
	t.Parallel()

	inner := New(CodeSymlinkLoop, "loop detected")
	wrapped := New(CodeCorrupt, "resolve failed").WithCause(inner)

	assert.True(t, IsCode(inner, CodeSymlinkLoop))
	assert.False(t, IsCode(wrapped, CodeSymlinkLoop))
	assert.True(t, IsCode(wrapped, CodeCorrupt))
}

func TestJSONRoundTrips(t *testing.T) {
	t.Parallel()

	err := New(CodeDirNotEmpty, "directory not empty").WithDetail("count", 3)
	js := err.JSON()
	assert.Contains(t, js, string(CodeDirNotEmpty))
	assert.Contains(t, js, `"count":3`)
}
