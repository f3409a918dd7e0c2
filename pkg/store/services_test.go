package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRefs(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	count, err := s.AddServiceRef("postgresql", "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.AddServiceRef("postgresql", "ws-2")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Duplicate registration is a no-op.
	count, err = s.AddServiceRef("postgresql", "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	refs, err := s.ServiceRefs("postgresql")
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-1", "ws-2"}, refs)

	count, err = s.RemoveServiceRef("postgresql", "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Removing an absent reference is a no-op.
	count, err = s.RemoveServiceRef("postgresql", "ws-404")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.RemoveServiceRef("postgresql", "ws-2")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	refs, err = s.ServiceRefs("postgresql")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestAllServiceRefs(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddServiceRef("postgresql", "ws-1")
	require.NoError(t, err)
	_, err = s.AddServiceRef("redis", "ws-1")
	require.NoError(t, err)
	_, err = s.AddServiceRef("redis", "ws-2")
	require.NoError(t, err)

	all, err := s.AllServiceRefs()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, []string{"ws-1", "ws-2"}, all["redis"])

	// Dropping the last reference removes the service entry entirely.
	_, err = s.RemoveServiceRef("postgresql", "ws-1")
	require.NoError(t, err)

	all, err = s.AllServiceRefs()
	require.NoError(t, err)
	assert.NotContains(t, all, "postgresql")
}
