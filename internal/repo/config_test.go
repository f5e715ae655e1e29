package repo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/errs"
)

func TestConfigGetSetLocal(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(testLogger(), CreateOptions{Filename: filepath.Join(dir, "r.fsl"), Username: "alice"})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.ConfigSet("project-name", "widgets", Local))
	v, err := r.ConfigGet("project-name", Local)
	require.NoError(t, err)
	assert.Equal(t, "widgets", v)

	_, err = r.ConfigGet("never-set", Local)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestConfigSetVersionedIsReadableFromBothTiers(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(testLogger(), CreateOptions{Filename: filepath.Join(dir, "r.fsl"), Username: "alice"})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.ConfigSet("ignore-glob", "*.o", Versioned))

	v, err := r.ConfigGet("ignore-glob", Versioned)
	require.NoError(t, err)
	assert.Equal(t, "*.o", v)

	v, err = r.ConfigGet("ignore-glob", Local)
	require.NoError(t, err)
	assert.Equal(t, "*.o", v)

	_, err = r.ConfigGet("never-versioned", Versioned)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}
