package problem

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsThroughChain(t *testing.T) {
	base := New(KindNotFound, "aliases.Lookup", "alias missing")
	wrapped := fmt.Errorf("resolving vendor: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsTransient(wrapped))
}

func TestKindOfDefaultsToUnavailable(t *testing.T) {
	assert.Equal(t, KindUnavailable, KindOf(errors.New("raw failure")))
}

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(KindTransient, "db.Exec", nil))
	require.NoError(t, Wrapf(KindTransient, "db.Exec", nil, "attempt %d", 1))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrapf(KindTransient, "textcache.Put", cause, "user %s", "u-1")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "textcache.Put")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("matching.Confirm", "match", "m-42")
	assert.Equal(t, `matching.Confirm: match "m-42" not found`, err.Error())
}
